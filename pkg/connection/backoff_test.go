package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultIsFixed", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{})
		for i := 0; i < 5; i++ {
			assert.Equal(t, DefaultReconnectDelay, b.Next())
		}
		assert.Equal(t, 5, b.Attempts())
	})

	t.Run("GrowsToCap", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    time.Second,
			Max:        5 * time.Second,
			Multiplier: 2,
		})

		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			5 * time.Second,
			5 * time.Second,
		}
		for i, exp := range expected {
			assert.Equal(t, exp, b.Next(), "attempt %d", i)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Multiplier: 3})
		b.Next()
		b.Next()
		b.Reset()
		assert.Equal(t, 0, b.Attempts())
		assert.Equal(t, time.Second, b.Next())
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: time.Second, Jitter: 0.25})
		for i := 0; i < 20; i++ {
			d := b.Next()
			assert.GreaterOrEqual(t, d, time.Second)
			assert.LessOrEqual(t, d, 1250*time.Millisecond)
		}
	})

	t.Run("JitterFromSupervisorConfig", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ReconnectDelay = time.Second
		cfg.BackoffJitter = 0.5
		require.NoError(t, cfg.Validate())

		b := cfg.backoff()
		for i := 0; i < 20; i++ {
			d := b.Next()
			assert.GreaterOrEqual(t, d, time.Second)
			assert.LessOrEqual(t, d, 1500*time.Millisecond)
		}

		cfg.BackoffJitter = 2
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Initial: 10 * time.Second, Max: time.Second, Multiplier: 2})
		assert.Equal(t, 10*time.Second, b.Next())
		assert.Equal(t, 10*time.Second, b.Next())
	})
}
