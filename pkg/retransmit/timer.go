package retransmit

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrExhausted is returned by Retry once MaxRetries resends have been made.
var ErrExhausted = errors.New("retransmit: retries exhausted")

// Timer tracks the deadline of the outstanding flight. It is not safe for
// concurrent use; a session drives it from its own calls.
type Timer struct {
	clk        clock.Clock
	backoff    *Backoff
	maxRetries int

	armed    bool
	deadline time.Time
	retries  int
}

// NewTimer creates a timer reading time from clk. A nil clock uses the
// wall clock.
func NewTimer(clk clock.Clock, cfg Config) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	cfg = cfg.normalize()
	return &Timer{
		clk:        clk,
		backoff:    NewBackoff(cfg),
		maxRetries: cfg.MaxRetries,
	}
}

// Start arms the timer for a freshly sent flight and resets the backoff.
func (t *Timer) Start() {
	t.backoff.Reset()
	t.retries = 0
	t.armed = true
	t.deadline = t.clk.Now().Add(t.backoff.Next())
}

// Stop disarms the timer. Call it when the peer's next flight arrives.
func (t *Timer) Stop() {
	t.armed = false
}

// Armed reports whether a flight is outstanding.
func (t *Timer) Armed() bool {
	return t.armed
}

// Expired reports whether the outstanding flight timed out.
func (t *Timer) Expired() bool {
	return t.armed && !t.clk.Now().Before(t.deadline)
}

// Remaining returns the time until expiry. It is zero when expired and
// negative when the timer is not armed.
func (t *Timer) Remaining() time.Duration {
	if !t.armed {
		return -1
	}
	d := t.deadline.Sub(t.clk.Now())
	if d < 0 {
		return 0
	}
	return d
}

// Retry records a retransmission and re-arms with a doubled timeout. It
// returns ErrExhausted, leaving the timer disarmed, when no retries remain.
func (t *Timer) Retry() error {
	if t.retries >= t.maxRetries {
		t.armed = false
		return ErrExhausted
	}
	t.retries++
	t.armed = true
	t.deadline = t.clk.Now().Add(t.backoff.Next())
	return nil
}

// Retries returns the number of retransmissions of the current flight.
func (t *Timer) Retries() int {
	return t.retries
}
