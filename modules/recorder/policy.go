package recorder

import (
	"math"
	"time"
)

// Phase selects which retry policy is in effect.
type Phase int

const (
	// PhaseConnect applies until the first byte of the session has been written.
	PhaseConnect Phase = iota
	// PhaseReconnect applies from the first written byte onwards, permanently.
	PhaseReconnect
)

func (p Phase) String() string {
	switch p {
	case PhaseConnect:
		return "connect"
	case PhaseReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// RetryPolicy is the interval and budget pair for one phase.
type RetryPolicy struct {
	Phase Phase

	// Interval is the wait between attempts.
	Interval time.Duration

	// Period is the total budget. A non-positive period means unlimited attempts.
	Period time.Duration

	// Backoff is added to the wait after each consecutive failed attempt.
	Backoff time.Duration

	// MaxWait caps the grown wait. Zero means uncapped.
	MaxWait time.Duration
}

// Countdown returns the attempt budget for the policy: Period/Interval when
// Period is positive, otherwise unlimited.
func (p RetryPolicy) Countdown() Countdown {
	if p.Period <= 0 || p.Interval <= 0 {
		return Countdown{unlimited: true}
	}

	return Countdown{remaining: int(p.Period / p.Interval)}
}

// Wait returns how long to sleep before the next attempt, given the number
// of consecutive failed attempts so far.
func (p RetryPolicy) Wait(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}

	wait := p.Interval
	if p.Backoff > 0 && failures > 0 {
		ceiling := time.Duration(math.MaxInt64)
		if p.MaxWait > 0 {
			ceiling = p.MaxWait
		}

		// Saturate instead of letting failures*Backoff overflow.
		if headroom := ceiling - wait; headroom <= 0 || time.Duration(failures) > headroom/p.Backoff {
			wait = ceiling
		} else {
			wait += time.Duration(failures) * p.Backoff
		}
	}
	if p.MaxWait > 0 && wait > p.MaxWait {
		wait = p.MaxWait
	}

	return wait
}

// Countdown tracks the remaining attempts of a phase.
//
// Spend decrements before testing: a countdown of n permits exactly n failed
// attempts before it is exhausted. The first attempt of a phase is always
// made, so a countdown of 0 (budget shorter than one interval) behaves like 1.
type Countdown struct {
	remaining int
	unlimited bool
}

// Unlimited reports whether the countdown never runs out.
func (c Countdown) Unlimited() bool { return c.unlimited }

// Remaining returns the attempts left, or -1 when unlimited.
func (c Countdown) Remaining() int {
	if c.unlimited {
		return -1
	}
	return c.remaining
}

// Spend records one failed attempt and reports whether another is allowed.
func (c *Countdown) Spend() bool {
	if c.unlimited {
		return true
	}

	c.remaining--
	return c.remaining > 0
}
