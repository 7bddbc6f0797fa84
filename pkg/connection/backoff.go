package connection

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Reconnect timing defaults.
const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultMaxReconnectDelay = 5 * time.Minute
)

// BackoffConfig describes the reconnect delay schedule. Zero values select
// the defaults; a Multiplier of 1 or less keeps every delay at Initial.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter adds up to this fraction of the delay at random.
	Jitter float64
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = DefaultReconnectDelay
	}
	if c.Max <= 0 {
		c.Max = DefaultMaxReconnectDelay
	}
	c.Max = max(c.Max, c.Initial)
	c.Multiplier = max(c.Multiplier, 1)
	c.Jitter = max(c.Jitter, 0)
	return c
}

// delay returns the base delay for the n-th wait since the last reset.
func (c BackoffConfig) delay(n int) time.Duration {
	d := float64(c.Initial) * math.Pow(c.Multiplier, float64(n))
	if d >= float64(c.Max) || math.IsInf(d, 0) {
		return c.Max
	}
	return time.Duration(d)
}

// Backoff hands out reconnect delays. It is safe for concurrent use.
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	attempts int
}

// NewBackoffWithConfig returns a schedule following cfg.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.normalized()}
}

// Next returns the delay before the upcoming attempt, jitter included.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	d := b.cfg.delay(b.attempts)
	b.attempts++
	b.mu.Unlock()

	if b.cfg.Jitter > 0 {
		d += time.Duration(float64(d) * b.cfg.Jitter * rand.Float64())
	}
	return d
}

// Reset restarts the schedule. Called once a connection is confirmed.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}

// Attempts is the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
