package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Liveness defaults. A silent connection is dropped after
// DefaultMaxMissedPongs unanswered pings.
const (
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 5 * time.Second
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig tunes websocket liveness checks. Zero fields select the
// defaults.
type KeepAliveConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the defaults.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{DefaultPingInterval, DefaultPongTimeout, DefaultMaxMissedPongs}
}

// DetectionDelay is the longest a dead connection can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs == 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// PingFunc sends a ping and blocks until the pong arrives or ctx ends.
// (*websocket.Conn).Ping has this shape.
type PingFunc func(ctx context.Context) error

// KeepAlive pings a connection periodically and reports when it stops
// answering.
type KeepAlive struct {
	config KeepAliveConfig

	ping           PingFunc
	onTimeout      func()
	onPongReceived func(latency time.Duration)

	pings        atomic.Uint32
	missedPongs  int
	lastPingTime time.Time
	lastPongTime time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewKeepAlive returns a monitor that calls ping every interval. onTimeout
// runs once, on the monitor goroutine, when too many pings in a row fail.
func NewKeepAlive(config KeepAliveConfig, ping PingFunc, onTimeout func()) *KeepAlive {
	return &KeepAlive{config: config.withDefaults(), ping: ping, onTimeout: onTimeout}
}

// SetPongReceivedCallback registers cb for every answered ping.
func (ka *KeepAlive) SetPongReceivedCallback(cb func(latency time.Duration)) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.onPongReceived = cb
}

// Start launches the monitor. Calling it while running does nothing.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	ka.running = true
	ka.cancel = cancel
	ka.done = make(chan struct{})
	go ka.loop(ctx, ka.done)
}

// Stop ends the monitor and waits for its goroutine.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	if !ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = false
	cancel, done := ka.cancel, ka.done
	ka.mu.Unlock()

	cancel()
	<-done
}

// IsRunning reports whether the monitor goroutine is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// KeepAliveStats is a snapshot of the monitor's counters.
type KeepAliveStats struct {
	Pings        uint32
	MissedPongs  int
	LastPingTime time.Time
	LastPongTime time.Time
}

// Stats returns a snapshot of the counters.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		Pings:        ka.pings.Load(),
		MissedPongs:  ka.missedPongs,
		LastPingTime: ka.lastPingTime,
		LastPongTime: ka.lastPongTime,
	}
}

func (ka *KeepAlive) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ka.check(ctx) {
				if ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
		}
	}
}

// check sends one ping and reports whether the connection is dead.
func (ka *KeepAlive) check(ctx context.Context) bool {
	ka.pings.Add(1)
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, ka.config.PongTimeout)
	err := ka.ping(pingCtx)
	cancel()

	ka.mu.Lock()
	ka.lastPingTime = start
	if err != nil {
		if ctx.Err() != nil {
			// Stopped while waiting; not a miss.
			ka.mu.Unlock()
			return false
		}
		ka.missedPongs++
		dead := ka.missedPongs >= ka.config.MaxMissedPongs
		ka.mu.Unlock()
		return dead
	}

	now := time.Now()
	ka.lastPongTime = now
	ka.missedPongs = 0
	cb := ka.onPongReceived
	ka.mu.Unlock()

	if cb != nil {
		cb(now.Sub(start))
	}
	return false
}
