package connection

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/erdlink/erdlink-go/pkg/log"
)

// DefaultMaxRetries is the number of failed cycles tolerated after a
// connection was confirmed.
const DefaultMaxRetries = 3

// Config configures a Supervisor.
type Config struct {
	// MaxRetries bounds consecutive failed cycles. The counter restarts
	// every time a connection is confirmed.
	MaxRetries int

	// ReconnectDelay is the wait before each retry. Zero selects
	// DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// BackoffMultiplier grows the delay after each failed cycle.
	// Values of 1 or less keep the delay fixed.
	BackoffMultiplier float64

	// MaxReconnectDelay caps a growing delay.
	MaxReconnectDelay time.Duration

	// BackoffJitter adds up to this fraction of each delay at random.
	BackoffJitter float64

	// SessionID tags protocol capture events. Empty selects a random UUID.
	SessionID string

	// Logger is the operational logger (nil disables logging).
	Logger *slog.Logger

	// ProtocolLogger records state changes, login outcomes and appliance
	// flips (nil disables capture).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default supervisor settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        DefaultMaxRetries,
		ReconnectDelay:    DefaultReconnectDelay,
		BackoffMultiplier: 1,
		MaxReconnectDelay: DefaultMaxReconnectDelay,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("%w: reconnect delay must not be negative", ErrInvalidConfig)
	}
	if c.MaxReconnectDelay < 0 {
		return fmt.Errorf("%w: max reconnect delay must not be negative", ErrInvalidConfig)
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		return fmt.Errorf("%w: backoff jitter must be between 0 and 1", ErrInvalidConfig)
	}
	return nil
}

func (c Config) backoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{
		Initial:    c.ReconnectDelay,
		Max:        c.MaxReconnectDelay,
		Multiplier: c.BackoffMultiplier,
		Jitter:     c.BackoffJitter,
	})
}
