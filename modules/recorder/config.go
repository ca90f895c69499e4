package recorder

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/zachfi/zkit/pkg/util"
)

const (
	defaultUserAgent             = "streamget/1.0"
	defaultTimeLimit             = 4 * time.Hour
	defaultConnectInterval       = 20 * time.Second
	defaultReconnectInterval     = 1 * time.Second
	defaultReadBufferSize        = 16 * 1024 // 16 KiB
	defaultDialTimeout           = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second

	minReadBufferSize = 1024
	maxReadBufferSize = 1024 * 1024
)

// Anchor selects the moment the recording time limit starts counting.
type Anchor string

const (
	// AnchorStart counts from session start.
	AnchorStart Anchor = "start"
	// AnchorFirstByte counts from the first byte received.
	AnchorFirstByte Anchor = "first-byte"
)

func (a Anchor) String() string { return string(a) }

// Set implements flag.Value.
func (a *Anchor) Set(s string) error {
	switch Anchor(s) {
	case AnchorStart, AnchorFirstByte:
		*a = Anchor(s)
		return nil
	default:
		return fmt.Errorf("invalid time limit anchor %q, want %q or %q", s, AnchorStart, AnchorFirstByte)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Anchor) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return a.Set(s)
}

type Config struct {
	URL       string `yaml:"url,omitempty"`
	Output    string `yaml:"output,omitempty"`
	UserAgent string `yaml:"user-agent,omitempty"`

	TimeLimit       time.Duration `yaml:"time-limit,omitempty"`        // total recording time, <= 0 is unlimited
	TimeLimitAnchor Anchor        `yaml:"time-limit-anchor,omitempty"` // start or first-byte

	ConnectInterval time.Duration `yaml:"connect-interval,omitempty"` // wait between initial connect attempts
	ConnectPeriod   time.Duration `yaml:"connect-period,omitempty"`   // budget for the initial connect, <= 0 is unlimited

	ReconnectInterval   time.Duration `yaml:"reconnect-interval,omitempty"`    // wait between reconnects once data has flowed
	ReconnectPeriod     time.Duration `yaml:"reconnect-period,omitempty"`      // budget per stream loss, <= 0 is unlimited
	ReconnectBackoff    time.Duration `yaml:"reconnect-backoff,omitempty"`     // added to the wait after each failed reconnect
	ReconnectBackoffMax time.Duration `yaml:"reconnect-backoff-max,omitempty"` // cap on the grown wait, 0 is uncapped

	ReadBufferSize int `yaml:"read-buffer-size,omitempty"` // bytes requested per read

	ResolvePlaylist       bool          `yaml:"resolve-playlist,omitempty"`
	DialTimeout           time.Duration `yaml:"dial-timeout,omitempty"`
	ResponseHeaderTimeout time.Duration `yaml:"response-header-timeout,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.URL, util.PrefixConfig(prefix, "url"), "", "The URL from which to stream")
	f.StringVar(&cfg.Output, util.PrefixConfig(prefix, "output"), "", "The file to append the stream to")
	f.StringVar(&cfg.UserAgent, util.PrefixConfig(prefix, "user-agent"), defaultUserAgent, "User agent sent to the stream server")

	f.DurationVar(&cfg.TimeLimit, util.PrefixConfig(prefix, "time-limit"), defaultTimeLimit,
		"Total recording time. Zero or negative records until the retry budget runs out.")
	cfg.TimeLimitAnchor = AnchorStart
	f.Var(&cfg.TimeLimitAnchor, util.PrefixConfig(prefix, "time-limit-anchor"),
		"When the time limit starts counting: start or first-byte.")

	f.DurationVar(&cfg.ConnectInterval, util.PrefixConfig(prefix, "connect-interval"), defaultConnectInterval,
		"Time between initial connect attempts while the stream is not yet available.")
	f.DurationVar(&cfg.ConnectPeriod, util.PrefixConfig(prefix, "connect-period"), 0,
		"How long to keep trying the initial connect. Zero or negative is unlimited.")

	f.DurationVar(&cfg.ReconnectInterval, util.PrefixConfig(prefix, "reconnect-interval"), defaultReconnectInterval,
		"Time between reconnect attempts after the stream drops.")
	f.DurationVar(&cfg.ReconnectPeriod, util.PrefixConfig(prefix, "reconnect-period"), 0,
		"How long to keep trying to reconnect after each drop. Zero or negative is unlimited.")
	f.DurationVar(&cfg.ReconnectBackoff, util.PrefixConfig(prefix, "reconnect-backoff"), 0,
		"Added to the reconnect interval after each failed attempt, to spare an overloaded server.")
	f.DurationVar(&cfg.ReconnectBackoffMax, util.PrefixConfig(prefix, "reconnect-backoff-max"), 0,
		"Maximum delay between reconnection attempts. Zero is uncapped.")

	f.IntVar(&cfg.ReadBufferSize, util.PrefixConfig(prefix, "read-buffer-size"), defaultReadBufferSize,
		"Bytes requested from the stream per read (clamped to 1KiB-1MiB).")

	f.BoolVar(&cfg.ResolvePlaylist, util.PrefixConfig(prefix, "resolve-playlist"), true,
		"Follow .pls and .m3u playlists to the first stream they list.")
	f.DurationVar(&cfg.DialTimeout, util.PrefixConfig(prefix, "dial-timeout"), defaultDialTimeout,
		"Timeout for establishing the TCP connection.")
	f.DurationVar(&cfg.ResponseHeaderTimeout, util.PrefixConfig(prefix, "response-header-timeout"), defaultResponseHeaderTimeout,
		"Timeout for the server to start responding. The stream itself has no read timeout.")
}

// Validate reports configuration errors.
func (cfg *Config) Validate() error {
	if cfg.URL == "" {
		return errors.New("recorder: url is required")
	}
	if cfg.Output == "" {
		return errors.New("recorder: output is required")
	}
	switch cfg.TimeLimitAnchor {
	case "", AnchorStart, AnchorFirstByte:
	default:
		return fmt.Errorf("recorder: invalid time-limit-anchor %q", cfg.TimeLimitAnchor)
	}
	if cfg.ConnectInterval < 0 {
		return errors.New("recorder: connect-interval must not be negative")
	}
	if cfg.ConnectPeriod > 0 && cfg.ConnectInterval <= 0 {
		return errors.New("recorder: connect-interval must be positive when connect-period is set")
	}
	if cfg.ReconnectInterval < 0 {
		return errors.New("recorder: reconnect-interval must not be negative")
	}
	if cfg.ReconnectPeriod > 0 && cfg.ReconnectInterval <= 0 {
		return errors.New("recorder: reconnect-interval must be positive when reconnect-period is set")
	}
	if cfg.ReconnectBackoff < 0 {
		return errors.New("recorder: reconnect-backoff must not be negative")
	}
	if cfg.ReadBufferSize < 0 {
		return errors.New("recorder: read-buffer-size must not be negative")
	}
	return nil
}

func (cfg *Config) anchor() Anchor {
	if cfg.TimeLimitAnchor == "" {
		return AnchorStart
	}
	return cfg.TimeLimitAnchor
}

func (cfg *Config) connectPolicy() RetryPolicy {
	return RetryPolicy{
		Phase:    PhaseConnect,
		Interval: cfg.ConnectInterval,
		Period:   cfg.ConnectPeriod,
	}
}

func (cfg *Config) reconnectPolicy() RetryPolicy {
	return RetryPolicy{
		Phase:    PhaseReconnect,
		Interval: cfg.ReconnectInterval,
		Period:   cfg.ReconnectPeriod,
		Backoff:  cfg.ReconnectBackoff,
		MaxWait:  cfg.ReconnectBackoffMax,
	}
}

func (cfg *Config) readBufferSize() int {
	n := cfg.ReadBufferSize
	if n == 0 {
		n = defaultReadBufferSize
	}
	if n < minReadBufferSize {
		n = minReadBufferSize
	}
	if n > maxReadBufferSize {
		n = maxReadBufferSize
	}
	return n
}
