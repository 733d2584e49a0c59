package lifecycle

import (
	"log/slog"
	"time"

	"github.com/aretw0/asyncworker/pkg/ports"
	"github.com/aretw0/asyncworker/pkg/window"
)

// DefaultClaimTimeout bounds how long a claim waits for the distributed lock.
const DefaultClaimTimeout = 5 * time.Second

// Clock tells the controller what time it is.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures the Controller.
type Option func(*Controller)

// WithClock replaces the wall clock (tests).
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithRandSource replaces the jitter source (tests).
func WithRandSource(src window.Source) Option {
	return func(c *Controller) {
		c.rand = src
	}
}

// WithPID overrides the process identifier recorded on the runner.
func WithPID(pid int) Option {
	return func(c *Controller) {
		c.pid = pid
	}
}

// WithLocker enables lock-based claims for stores without compare-and-swap.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(c *Controller) {
		c.locker = locker
	}
}

// WithLogger configures a logger for internal events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithHooks registers observability callbacks.
func WithHooks(hooks Hooks) Option {
	return func(c *Controller) {
		c.hooks = hooks
	}
}
