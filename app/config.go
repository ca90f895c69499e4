package app

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/server"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/zachfi/zkit/pkg/tracing"

	"github.com/zachfi/streamget/modules/recorder"
)

type Config struct {
	Target    string          `yaml:"target"`
	Verbosity int             `yaml:"verbosity"`
	LogFile   string          `yaml:"log-file,omitempty"`
	Daemonize bool            `yaml:"daemonize,omitempty"`
	LockFile  string          `yaml:"lock-file,omitempty"`
	Tracing   tracing.Config  `yaml:"tracing,omitempty"`
	Server    server.Config   `yaml:"server,omitempty"`
	Recorder  recorder.Config `yaml:"recorder,omitempty"`
}

// LoadConfig receives a file path for a configuration to load.
func LoadConfig(file string) (Config, error) {
	filename, _ := filepath.Abs(file)

	config := Config{}
	err := loadYamlFile(filename, &config)
	if err != nil {
		return config, errors.Wrap(err, "failed to load yaml file")
	}

	return config, nil
}

// loadYamlFile unmarshals a YAML file into the received interface{} or returns an error.
func loadYamlFile(filename string, d interface{}) error {
	yamlFile, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	err = yaml.UnmarshalStrict(yamlFile, d)
	if err != nil {
		return err
	}

	return nil
}

func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Target = All
	f.StringVar(&c.Target, "target", All, "The module to run.")
	f.IntVar(&c.Verbosity, "verbosity", 0, "Diagnostic output level: 0 info, 1 debug, 2 and up per-chunk trace.")
	f.StringVar(&c.LogFile, "log-file", "", "Append logs to this file instead of stdout.")
	f.BoolVar(&c.Daemonize, "daemonize", false, "Detach from the terminal and run in the background.")
	f.StringVar(&c.LockFile, "lock-file", "", "Lock file preventing two recordings of the same output (default <output>.lock).")

	flagext.DefaultValues(&c.Server)
	f.IntVar(&c.Server.HTTPListenPort, "server.http-listen-port", 3030, "HTTP server listen port.")
	f.IntVar(&c.Server.GRPCListenPort, "server.grpc-listen-port", 9090, "gRPC server listen port.")

	c.Tracing.RegisterFlagsAndApplyDefaults("tracing", f)
	c.Recorder.RegisterFlagsAndApplyDefaults("recorder", f)
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.Verbosity < 0 {
		return errors.New("verbosity must not be negative")
	}
	return errors.Wrap(c.Recorder.Validate(), "invalid recorder config")
}

// LockPath returns the lock file guarding the output file.
func (c *Config) LockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	return c.Recorder.Output + ".lock"
}

// LogLevel maps the verbosity to a slog level.
func (c *Config) LogLevel() slog.Level {
	switch {
	case c.Verbosity <= 0:
		return slog.LevelInfo
	case c.Verbosity == 1:
		return slog.LevelDebug
	default:
		return recorder.LevelTrace
	}
}
