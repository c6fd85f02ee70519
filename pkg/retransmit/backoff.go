package retransmit

import (
	"time"
)

// Defaults for DTLS flight timers.
const (
	// InitialTimeout is the first flight timeout.
	InitialTimeout = 1 * time.Second

	// MaxTimeout caps the flight timeout.
	MaxTimeout = 60 * time.Second

	// Multiplier is the factor applied after each retransmission.
	Multiplier = 2.0

	// MaxRetries is the number of retransmissions before giving up.
	MaxRetries = 6
)

// Config allows customizing retransmission parameters.
type Config struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	MaxRetries int           `yaml:"max_retries"`
}

// DefaultConfig returns the standard DTLS timer settings.
func DefaultConfig() Config {
	return Config{
		Initial:    InitialTimeout,
		Max:        MaxTimeout,
		Multiplier: Multiplier,
		MaxRetries: MaxRetries,
	}
}

// normalize fills zero or invalid fields with defaults.
func (c Config) normalize() Config {
	if c.Initial <= 0 {
		c.Initial = InitialTimeout
	}
	if c.Max <= 0 {
		c.Max = MaxTimeout
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = Multiplier
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = MaxRetries
	}
	return c
}

// Backoff calculates exponential flight timeouts without jitter.
type Backoff struct {
	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	attempts   int
}

// NewBackoff creates a backoff calculator for cfg.
func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.normalize()
	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
	}
}

// Next returns the current timeout and advances to the next one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next
	return d
}

// Current returns the timeout the next call to Next will return.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Attempts returns the number of Next calls since the last reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset returns to the initial timeout.
func (b *Backoff) Reset() {
	b.current = b.initial
	b.attempts = 0
}

// Sequence returns the timeouts cfg produces, one per transmission of a
// flight (the original send plus every retry).
func Sequence(cfg Config) []time.Duration {
	cfg = cfg.normalize()
	b := NewBackoff(cfg)
	out := make([]time.Duration, 0, cfg.MaxRetries+1)
	for i := 0; i <= cfg.MaxRetries; i++ {
		out = append(out, b.Next())
	}
	return out
}
