package recorder

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlagsAndApplyDefaults("recorder", fs)

	require.Equal(t, defaultTimeLimit, cfg.TimeLimit)
	require.Equal(t, AnchorStart, cfg.TimeLimitAnchor)
	require.Equal(t, defaultConnectInterval, cfg.ConnectInterval)
	require.Equal(t, defaultReconnectInterval, cfg.ReconnectInterval)
	require.Zero(t, cfg.ConnectPeriod)
	require.Zero(t, cfg.ReconnectPeriod)
	require.True(t, cfg.ResolvePlaylist)

	require.NoError(t, fs.Parse([]string{
		"-recorder.url", "http://radio.test/live",
		"-recorder.output", "/tmp/out.mp3",
		"-recorder.time-limit-anchor", "first-byte",
		"-recorder.reconnect-period", "1m",
	}))
	require.Equal(t, "http://radio.test/live", cfg.URL)
	require.Equal(t, AnchorFirstByte, cfg.TimeLimitAnchor)
	require.Equal(t, time.Minute, cfg.ReconnectPeriod)
	require.NoError(t, cfg.Validate())

	require.Error(t, fs.Parse([]string{"-recorder.time-limit-anchor", "noon"}))
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			URL:               "http://radio.test/live",
			Output:            "out.mp3",
			ConnectInterval:   time.Second,
			ReconnectInterval: time.Second,
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "missing url", mutate: func(c *Config) { c.URL = "" }},
		{name: "missing output", mutate: func(c *Config) { c.Output = "" }},
		{name: "bad anchor", mutate: func(c *Config) { c.TimeLimitAnchor = "noon" }},
		{name: "negative connect interval", mutate: func(c *Config) { c.ConnectInterval = -time.Second }},
		{name: "connect period without interval", mutate: func(c *Config) {
			c.ConnectInterval = 0
			c.ConnectPeriod = time.Minute
		}},
		{name: "unlimited connect period without interval", mutate: func(c *Config) {
			c.ConnectInterval = 0
			c.ConnectPeriod = -1
		}, ok: true},
		{name: "reconnect period without interval", mutate: func(c *Config) {
			c.ReconnectInterval = 0
			c.ReconnectPeriod = time.Minute
		}},
		{name: "negative backoff", mutate: func(c *Config) { c.ReconnectBackoff = -time.Second }},
		{name: "negative buffer", mutate: func(c *Config) { c.ReadBufferSize = -1 }},
		{name: "negative time limit is unlimited", mutate: func(c *Config) { c.TimeLimit = -1 }, ok: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestConfigYAML(t *testing.T) {
	in := `
url: http://radio.test/live.pls
output: /var/lib/streamget/show.mp3
time-limit: 2h
time-limit-anchor: first-byte
connect-interval: 20s
connect-period: 5m
reconnect-backoff: 1s
reconnect-backoff-max: 30s
`
	cfg := Config{}
	require.NoError(t, yaml.UnmarshalStrict([]byte(in), &cfg))

	require.Equal(t, 2*time.Hour, cfg.TimeLimit)
	require.Equal(t, AnchorFirstByte, cfg.TimeLimitAnchor)
	require.Equal(t, 5*time.Minute, cfg.ConnectPeriod)

	p := cfg.reconnectPolicy()
	require.Equal(t, time.Second, p.Backoff)
	require.Equal(t, 30*time.Second, p.MaxWait)
	require.Equal(t, 15, cfg.connectPolicy().Countdown().Remaining())

	require.Error(t, yaml.UnmarshalStrict([]byte("time-limit-anchor: noon\n"), &Config{}))
	require.Error(t, yaml.UnmarshalStrict([]byte("bogus: 1\n"), &Config{}))
}

func TestConfigReadBufferSize(t *testing.T) {
	cases := map[int]int{
		0:               defaultReadBufferSize,
		10:              minReadBufferSize,
		4096:            4096,
		8 * 1024 * 1024: maxReadBufferSize,
	}

	for in, want := range cases {
		cfg := Config{ReadBufferSize: in}
		require.Equal(t, want, cfg.readBufferSize(), "read buffer %d", in)
	}
}
