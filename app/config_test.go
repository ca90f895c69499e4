package app

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zachfi/streamget/modules/recorder"
)

func TestConfigLogLevel(t *testing.T) {
	cases := map[int]slog.Level{
		0: slog.LevelInfo,
		1: slog.LevelDebug,
		2: recorder.LevelTrace,
		5: recorder.LevelTrace,
	}

	for verbosity, want := range cases {
		c := Config{Verbosity: verbosity}
		require.Equal(t, want, c.LogLevel(), "verbosity %d", verbosity)
	}
}

func TestConfigLockPath(t *testing.T) {
	c := Config{Recorder: recorder.Config{Output: "/srv/rec/show.mp3"}}
	require.Equal(t, "/srv/rec/show.mp3.lock", c.LockPath())

	c.LockFile = "/run/streamget.lock"
	require.Equal(t, "/run/streamget.lock", c.LockPath())
}

func TestConfigValidate(t *testing.T) {
	c := Config{}
	c.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("test", flag.ContinueOnError))
	require.Equal(t, All, c.Target)
	require.Error(t, c.Validate())

	c.Recorder.URL = "http://radio.test/live"
	c.Recorder.Output = "show.mp3"
	require.NoError(t, c.Validate())

	c.Verbosity = -1
	require.Error(t, c.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamget.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target: recorder
verbosity: 1
log-file: /var/log/streamget.log
recorder:
  url: http://radio.test/live.m3u
  output: /srv/rec/show.mp3
  time-limit: 90m
  reconnect-period: 10m
`), 0o600))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, Recorder, c.Target)
	require.Equal(t, "/var/log/streamget.log", c.LogFile)
	require.Equal(t, 90*time.Minute, c.Recorder.TimeLimit)
	require.Equal(t, 10*time.Minute, c.Recorder.ReconnectPeriod)

	require.NoError(t, os.WriteFile(path, []byte("unknown: true\n"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
