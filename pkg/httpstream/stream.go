package httpstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrUnexpectedStatus is returned when the server answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("httpstream: unexpected status")

// Options configures a Client.
type Options struct {
	// UserAgent is sent with every request.
	UserAgent string

	// DialTimeout bounds establishing the TCP connection.
	// Default: 5s
	DialTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers. The body
	// is never timed out.
	// Default: 10s
	ResponseHeaderTimeout time.Duration

	// ResolvePlaylist follows .pls and .m3u responses to the first stream
	// URL they contain.
	ResolvePlaylist bool
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		UserAgent:             "streamget/1.0",
		DialTimeout:           5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ResolvePlaylist:       true,
	}
}

// Client opens streams over HTTP.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient returns a Client for opts. Zero timeouts take the defaults.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = def.ResponseHeaderTimeout
	}

	// Only the dial and the wait for headers are bounded. Body reads are not.
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		DisableCompression:    true, // raw bytes only
	}

	return &Client{
		// http.Client.Timeout would cut the body off mid-recording.
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// Open connects to url and returns the response body. Cancelling ctx aborts
// a pending connect as well as a blocked read on the returned stream.
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	if c.opts.ResolvePlaylist && isPlaylist(url, resp.Header.Get("Content-Type")) {
		streamURL, err := resolvePlaylist(url, resp)
		if err != nil {
			return nil, err
		}

		resp, err = c.get(ctx, streamURL)
		if err != nil {
			return nil, err
		}
	}

	return &stream{rc: resp.Body}, nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(http.StatusText(resp.StatusCode)))
	}

	return resp, nil
}

// stream makes Close safe to call more than once, including concurrently
// with a blocked Read.
type stream struct {
	rc   io.ReadCloser
	once sync.Once
	err  error
}

func (s *stream) Read(p []byte) (int, error) {
	return s.rc.Read(p)
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.err = s.rc.Close()
	})
	return s.err
}
