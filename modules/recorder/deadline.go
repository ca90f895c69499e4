package recorder

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrDeadlineArmed is returned when a deadline is armed a second time.
var ErrDeadlineArmed = errors.New("recording deadline already armed")

// Deadline is the one-shot total recording time limit. It runs independently
// of the connection state and calls expire exactly once when it fires.
type Deadline struct {
	clock  clockwork.Clock
	limit  time.Duration
	expire func()

	mu      sync.Mutex
	armed   bool
	armedAt time.Time
	timer   clockwork.Timer

	once sync.Once
	done chan struct{}
}

// NewDeadline returns an unarmed deadline. A non-positive limit never fires.
func NewDeadline(clock clockwork.Clock, limit time.Duration, expire func()) *Deadline {
	return &Deadline{
		clock:  clock,
		limit:  limit,
		expire: expire,
		done:   make(chan struct{}),
	}
}

// Arm starts the countdown. It may be called once.
func (d *Deadline) Arm() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.armed {
		return ErrDeadlineArmed
	}
	d.armed = true
	d.armedAt = d.clock.Now()

	if d.limit > 0 {
		d.timer = d.clock.AfterFunc(d.limit, d.fire)
	}

	return nil
}

// fire runs on the clock's goroutine; it must stay minimal.
func (d *Deadline) fire() {
	d.once.Do(func() {
		close(d.done)
		if d.expire != nil {
			d.expire()
		}
	})
}

func (d *Deadline) expired() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Stop cancels a pending deadline. It is safe to call on an unarmed or
// already fired deadline.
func (d *Deadline) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
