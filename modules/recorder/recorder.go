package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zachfi/streamget/pkg/httpstream"
)

var module = "recorder"

// Recorder runs one recording Session as a service. When the session ends
// on its own the whole process is asked to stop.
type Recorder struct {
	services.Service
	cfg     *Config
	logger  *slog.Logger
	session *Session
}

// New creates and returns a new Recorder.
func New(cfg Config, logger *slog.Logger, reg prometheus.Registerer) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		cfg:    &cfg,
		logger: logger.With("module", module),
	}

	source := httpstream.NewClient(httpstream.Options{
		UserAgent:             cfg.UserAgent,
		DialTimeout:           cfg.DialTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ResolvePlaylist:       cfg.ResolvePlaylist,
	})

	r.session = NewSession(cfg, source, NewFileSink(cfg.Output), clockwork.NewRealClock(), r.logger, reg)
	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)

	return r, nil
}

func (r *Recorder) starting(_ context.Context) error {
	r.logger.Info("starting",
		"url", r.cfg.URL,
		"output", r.cfg.Output,
		"time_limit", r.cfg.TimeLimit,
		"anchor", r.cfg.anchor(),
	)
	return nil
}

func (r *Recorder) running(ctx context.Context) error {
	if err := r.session.Run(ctx); err != nil {
		return err
	}

	// Stopped from outside; nothing more to do.
	if ctx.Err() != nil {
		return nil
	}

	// The recording is complete, take the rest of the process down with it.
	return modules.ErrStopProcess
}

func (r *Recorder) stopping(_ error) error {
	st := r.session.Status()
	r.logger.Info("stopping", "state", st.State, "reason", st.Reason, "bytes_written", st.BytesWritten)
	return nil
}

// Status returns the current session status.
func (r *Recorder) Status() Status {
	return r.session.Status()
}

// StatusHandler serves the session status as JSON.
func (r *Recorder) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.Status()); err != nil {
		r.logger.Error("failed to encode status", "err", err)
	}
}
