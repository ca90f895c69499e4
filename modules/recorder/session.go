package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/zkit/pkg/tracing"
)

// LevelTrace sits below slog.LevelDebug and logs every chunk written.
const LevelTrace = slog.LevelDebug - 4

var (
	// ErrTimeLimitReached is the cancellation cause when the recording time
	// limit fires. It is a normal end of the session, not a failure.
	ErrTimeLimitReached = errors.New("recording time limit reached")

	errSessionRan = errors.New("session has already run")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateDone
)

var allStates = []State{StateIdle, StateConnecting, StateStreaming, StateReconnecting, StateDone}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Reason records why a session reached StateDone.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonConnectBudgetExhausted Reason = "connect-budget-exhausted"
	ReasonReconnectExhausted     Reason = "reconnect-budget-exhausted"
	ReasonTimeLimitReached       Reason = "time-limit-reached"
	ReasonStopped                Reason = "stopped"
	ReasonFailed                 Reason = "failed"
)

// Status is a point-in-time view of a session.
type Status struct {
	State             State  `json:"state"`
	Phase             Phase  `json:"phase"`
	Reason            Reason `json:"reason,omitempty"`
	BytesWritten      int64  `json:"bytes_written"`
	Attempts          int    `json:"attempts"`
	Connects          int    `json:"connects"`
	Reconnects        int    `json:"reconnects"`
	AttemptsRemaining int    `json:"attempts_remaining"` // -1 when unlimited
	TimeLimitArmed    bool   `json:"time_limit_armed"`
}

// sessionState is all mutable runtime state of a Session.
type sessionState struct {
	state     State
	phase     Phase
	reason    Reason
	countdown Countdown
	failures  int // consecutive failed attempts in the current phase

	written    int64
	attempts   int
	connects   int
	reconnects int
	armed      bool
}

// Session records one URL into one sink. It connects, streams, and
// reconnects under the configured retry budgets until a budget runs out, the
// time limit fires, the context is cancelled, or the sink fails.
type Session struct {
	cfg     Config
	source  Source
	sink    Sink
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer

	connect   RetryPolicy
	reconnect RetryPolicy
	buf       []byte

	ran atomic.Bool

	mu sync.RWMutex
	st sessionState
}

// NewSession returns a session in StateIdle. A nil reg leaves the session
// metrics unregistered.
func NewSession(cfg Config, source Source, sink Sink, clock clockwork.Clock, logger *slog.Logger, reg prometheus.Registerer) *Session {
	s := &Session{
		cfg:       cfg,
		source:    source,
		sink:      sink,
		clock:     clock,
		logger:    logger,
		metrics:   newMetrics(reg),
		tracer:    otel.Tracer("github.com/zachfi/streamget/modules/recorder"),
		connect:   cfg.connectPolicy(),
		reconnect: cfg.reconnectPolicy(),
		buf:       make([]byte, cfg.readBufferSize()),
	}
	s.metrics.setState(StateIdle)

	return s
}

// Run drives the session to StateDone. It returns nil when the session ends
// normally (budget exhausted, time limit reached, or ctx cancelled) and an
// error wrapping ErrSinkOpen or ErrShortWrite when the output file fails.
func (s *Session) Run(ctx context.Context) error {
	if s.ran.Swap(true) {
		return errSessionRan
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	deadline := NewDeadline(s.clock, s.cfg.TimeLimit, func() { cancel(ErrTimeLimitReached) })
	defer deadline.Stop()

	defer func() {
		if err := s.sink.Close(); err != nil {
			s.logger.Error("failed to close output", "err", err)
		}
	}()

	s.mu.Lock()
	s.st.phase = PhaseConnect
	s.st.countdown = s.connect.Countdown()
	s.mu.Unlock()
	s.transition(StateConnecting)

	if s.cfg.anchor() == AnchorStart {
		if err := s.armDeadline(deadline); err != nil {
			return s.fail(err)
		}
	}

	for {
		received, err := s.attempt(ctx, deadline)
		if err != nil {
			return s.fail(err)
		}
		if ctx.Err() != nil {
			return s.stop(ctx)
		}

		if received > 0 {
			s.lost(received)
		} else if !s.spend() {
			return s.exhausted()
		}

		policy, failures := s.activePolicy()
		wait := policy.Wait(failures)
		s.logger.Debug("waiting before next attempt", "phase", policy.Phase, "wait", wait, "remaining", s.remaining())

		if !s.sleep(ctx, wait) {
			return s.stop(ctx)
		}
	}
}

// attempt opens the stream once and pumps it into the sink until it ends.
// It returns the bytes received on this connection. Only sink failures are
// returned as errors; everything the network does is absorbed.
func (s *Session) attempt(ctx context.Context, deadline *Deadline) (received int64, err error) {
	policy, _ := s.activePolicy()
	phase := policy.Phase.String()

	ctx, span := s.tracer.Start(ctx, "recorder.attempt", trace.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("url", s.cfg.URL),
	))
	defer func() {
		span.SetAttributes(attribute.Int64("bytes", received))
		_ = tracing.ErrHandler(span, err, "recording attempt failed", nil)
	}()

	s.mu.Lock()
	s.st.attempts++
	s.mu.Unlock()

	s.logger.Debug("opening stream", "url", s.cfg.URL, "phase", phase, "remaining", s.remaining())

	stream, openErr := s.source.Open(ctx, s.cfg.URL)
	if openErr != nil {
		s.metrics.attempts.WithLabelValues(phase, "failed").Inc()
		if ctx.Err() == nil {
			s.logger.Debug("failed to open stream", "url", s.cfg.URL, "err", openErr)
		}
		return 0, nil
	}
	// A blocked Read returns once the stream is closed. The source sees a
	// single Close whichever side gets there first.
	closeStream := sync.OnceFunc(func() { _ = stream.Close() })
	defer closeStream()

	stop := context.AfterFunc(ctx, closeStream)
	defer stop()

	for {
		n, readErr := stream.Read(s.buf)
		if n > 0 {
			if received == 0 {
				if err := s.streaming(deadline, phase); err != nil {
					return received, err
				}
			}
			if err := s.write(ctx, s.buf[:n]); err != nil {
				return received, err
			}
			received += int64(n)
		}

		if readErr == nil {
			continue
		}

		if received == 0 {
			s.metrics.attempts.WithLabelValues(phase, "empty").Inc()
		}
		switch {
		case ctx.Err() != nil:
		case errors.Is(readErr, io.EOF):
			s.logger.Debug("end of stream", "received", humanize.IBytes(uint64(received)))
		default:
			s.logger.Debug("stream read failed", "received", humanize.IBytes(uint64(received)), "err", readErr)
		}

		return received, nil
	}
}

// streaming is entered on the first byte of a connection.
func (s *Session) streaming(deadline *Deadline, phase string) error {
	s.mu.Lock()
	first := s.st.written == 0
	s.st.phase = PhaseReconnect
	s.st.countdown = s.reconnect.Countdown()
	s.st.failures = 0
	s.st.connects++
	if !first {
		s.st.reconnects++
	}
	written := s.st.written
	s.mu.Unlock()

	s.transition(StateStreaming)
	s.metrics.attempts.WithLabelValues(phase, "connected").Inc()

	if !first {
		s.metrics.reconnects.Inc()
		s.logger.Info("reconnected", "url", s.cfg.URL, "written", humanize.IBytes(uint64(written)))
		return nil
	}

	s.logger.Info("connected", "url", s.cfg.URL, "output", s.cfg.Output)
	if s.cfg.anchor() == AnchorFirstByte {
		return s.armDeadline(deadline)
	}

	return nil
}

func (s *Session) write(ctx context.Context, p []byte) error {
	n, err := s.sink.Write(p)

	s.mu.Lock()
	s.st.written += int64(n)
	s.mu.Unlock()
	s.metrics.bytesWritten.Add(float64(n))

	if err == nil && n != len(p) {
		err = fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(p))
	}
	if err != nil {
		return err
	}

	s.logger.Log(ctx, LevelTrace, "chunk written", "bytes", n)
	return nil
}

// lost moves a session whose connection ended after delivering data into
// StateReconnecting with a fresh reconnect budget.
func (s *Session) lost(received int64) {
	s.mu.Lock()
	s.st.phase = PhaseReconnect
	s.st.countdown = s.reconnect.Countdown()
	s.st.failures = 0
	written := s.st.written
	s.mu.Unlock()

	s.transition(StateReconnecting)
	s.logger.Info("stream lost, reconnecting",
		"url", s.cfg.URL,
		"received", humanize.IBytes(uint64(received)),
		"written", humanize.IBytes(uint64(written)),
	)
}

// spend charges a failed attempt to the active countdown and reports whether
// another attempt is allowed.
func (s *Session) spend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.failures++
	return s.st.countdown.Spend()
}

func (s *Session) exhausted() error {
	s.mu.RLock()
	phase := s.st.phase
	s.mu.RUnlock()

	reason := ReasonConnectBudgetExhausted
	period := s.connect.Period
	if phase == PhaseReconnect {
		reason = ReasonReconnectExhausted
		period = s.reconnect.Period
	}

	s.logger.Info("retry budget exhausted, giving up", "phase", phase, "period", period, "url", s.cfg.URL)
	s.finish(reason)

	return nil
}

func (s *Session) stop(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), ErrTimeLimitReached) {
		s.logger.Info("recording time expired", "limit", s.cfg.TimeLimit, "written", humanize.IBytes(uint64(s.written())))
		s.finish(ReasonTimeLimitReached)
		return nil
	}

	s.logger.Info("recording stopped", "written", humanize.IBytes(uint64(s.written())))
	s.finish(ReasonStopped)
	return nil
}

func (s *Session) fail(err error) error {
	s.logger.Error("recording failed", "output", s.cfg.Output, "err", err)
	s.finish(ReasonFailed)
	return err
}

func (s *Session) finish(reason Reason) {
	s.mu.Lock()
	s.st.reason = reason
	s.mu.Unlock()

	s.transition(StateDone)
}

func (s *Session) armDeadline(deadline *Deadline) error {
	if err := deadline.Arm(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st.armed = true
	s.mu.Unlock()

	if s.cfg.TimeLimit > 0 {
		s.metrics.deadlineSet.Set(1)
		s.logger.Debug("recording time limit armed", "limit", s.cfg.TimeLimit, "anchor", s.cfg.anchor())
	}

	return nil
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.st.state
	s.st.state = to
	s.mu.Unlock()

	s.metrics.setState(to)
	if to == StateDone {
		s.metrics.deadlineSet.Set(0)
	}
	s.logger.Debug("state changed", "from", from, "to", to)
}

// sleep waits for d and reports false if ctx ended first.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := s.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func (s *Session) activePolicy() (RetryPolicy, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.st.phase == PhaseReconnect {
		return s.reconnect, s.st.failures
	}
	return s.connect, s.st.failures
}

func (s *Session) remaining() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.countdown.Remaining()
}

func (s *Session) written() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.written
}

// Status returns a snapshot of the session. It is safe to call concurrently
// with Run.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		State:             s.st.state,
		Phase:             s.st.phase,
		Reason:            s.st.reason,
		BytesWritten:      s.st.written,
		Attempts:          s.st.attempts,
		Connects:          s.st.connects,
		Reconnects:        s.st.reconnects,
		AttemptsRemaining: s.st.countdown.Remaining(),
		TimeLimitArmed:    s.st.armed,
	}
}
