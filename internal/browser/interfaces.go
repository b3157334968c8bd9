package browser

import (
	"context"
	"time"
)

// Instance is one live browser process. Implementations must be safe
// for concurrent use; the pool probes health while leases are out.
type Instance interface {
	ID() string
	// NewTab opens a fresh tab and returns its context. The caller
	// must call the cancel func to close the tab.
	NewTab(parent context.Context) (context.Context, context.CancelFunc, error)
	// Alive reports whether the underlying process is still running.
	Alive() bool
	// PageCount returns the number of reachable pages.
	PageCount(ctx context.Context) (int, error)
	Close(ctx context.Context) error
	// Kill terminates the underlying process immediately, ignoring errors.
	Kill()
}

// Launcher starts browser instances.
type Launcher interface {
	Launch(ctx context.Context) (Instance, error)
}

// State tracks where a pooled instance is in its lifecycle. A retiring
// instance is never handed out again.
type State int

const (
	StateAvailable State = iota
	StateBusy
	StateRetiring
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateBusy:
		return "busy"
	case StateRetiring:
		return "retiring"
	}
	return "unknown"
}

// Config controls pool sizing and interaction timeouts.
type Config struct {
	PoolSize   int
	UsageLimit int
	Headless   bool
	ChromePath string
	UserAgent  string

	CreateRetries    int
	CreateRetryDelay time.Duration

	AcquirePollInterval time.Duration
	// AcquireTimeout bounds a single Acquire call. Zero means wait
	// until the caller's context expires.
	AcquireTimeout time.Duration

	// HealthInterval is the period of the background health check.
	// Negative disables it.
	HealthInterval time.Duration

	PageLoadTimeout    time.Duration
	InteractionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 2
	}
	if c.UsageLimit <= 0 {
		c.UsageLimit = 10
	}
	if c.CreateRetries <= 0 {
		c.CreateRetries = 3
	}
	if c.CreateRetryDelay <= 0 {
		c.CreateRetryDelay = 2 * time.Second
	}
	if c.AcquirePollInterval <= 0 {
		c.AcquirePollInterval = 200 * time.Millisecond
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 30 * time.Second
	}
	if c.InteractionTimeout <= 0 {
		c.InteractionTimeout = 10 * time.Second
	}
	return c
}
