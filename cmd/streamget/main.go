package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/grafana/dskit/flagext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
	"gopkg.in/yaml.v2"

	"github.com/zachfi/zkit/pkg/tracing"

	"github.com/zachfi/streamget/app"
	"github.com/zachfi/streamget/internal/daemon"
	"github.com/zachfi/streamget/internal/lockfile"
	"github.com/zachfi/streamget/modules/recorder"
)

const appName = "streamget"

// Exit codes
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitOutputOpen    = 2
	ExitShortWrite    = 3
	ExitLocked        = 4
	ExitInvalidConfig = 5
)

// Version is set via build flag -ldflags -X main.Version
var (
	Version  string
	Branch   string
	Revision string
)

func init() {
	version.Version = Version
	version.Branch = Branch
	version.Revision = Revision
	prometheus.MustRegister(version.NewCollector(appName))
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, printVersion, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config file", "err", err)
		return ExitInvalidConfig
	}

	if printVersion {
		fmt.Println(version.Print(appName))
		return ExitSuccess
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		return ExitInvalidConfig
	}

	// Detach before any file is opened.
	if cfg.Daemonize && !daemon.IsChild() {
		pid, err := daemon.Daemonize()
		if err != nil {
			slog.Error("failed to daemonize", "err", err)
			return ExitGeneralError
		}
		slog.Info("detached", "pid", pid)
		return ExitSuccess
	}

	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel())

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("failed to open log file", "path", cfg.LogFile, "err", err)
			return ExitGeneralError
		}
		defer f.Close()
		out = f
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	lock, err := lockfile.Acquire(cfg.LockPath())
	if err != nil {
		logger.Error("failed to acquire lock", "err", err)
		if errors.Is(err, lockfile.ErrLocked) {
			return ExitLocked
		}
		return ExitGeneralError
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error("failed to release lock", "err", err)
		}
	}()

	shutdownTracer, err := tracing.InstallOpenTelemetryTracer(&cfg.Tracing, logger, appName, Version)
	if err != nil {
		logger.Error("error initialising tracer", "err", err)
		return ExitGeneralError
	}
	defer shutdownTracer()

	a, err := app.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create", "app", appName, "err", err)
		return ExitGeneralError
	}

	if err := a.Run(); err != nil {
		logger.Error("error running", "app", appName, "err", err)
		return exitCode(err)
	}

	return ExitSuccess
}

// exitCode maps a fatal recording error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, recorder.ErrSinkOpen):
		return ExitOutputOpen
	case errors.Is(err, recorder.ErrShortWrite):
		return ExitShortWrite
	default:
		return ExitGeneralError
	}
}

func loadConfig() (*app.Config, bool, error) {
	const (
		configFileOption = "config.file"
	)

	var configFile string

	args := os.Args[1:]
	config := &app.Config{}

	// first get the config file
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&configFile, configFileOption, "", "")

	// Try to find -config.file & -config.expand-env flags. As Parsing stops on the first error, eg. unknown flag,
	// we simply try remaining parameters until we find config flag, or there are no params left.
	// (ContinueOnError just means that flag.Parse doesn't call panic or os.Exit, but it returns error, which we ignore)
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	// load config defaults and register flags
	config.RegisterFlagsAndApplyDefaults("", flag.CommandLine)
	printVersion := flag.Bool("version", false, "Print version information and exit")

	// overlay with config file if provided
	if configFile != "" {
		buff, err := os.ReadFile(configFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}

		err = yaml.UnmarshalStrict(buff, config)
		if err != nil {
			return nil, false, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	// overlay with cli
	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Configuration file to load")
	flag.Parse()

	return config, *printVersion, nil
}
