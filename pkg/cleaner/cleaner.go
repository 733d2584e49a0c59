// Package cleaner composes the per-job cleanup run after every executed job:
// flushing buffers, dropping caches and returning memory to the OS.
package cleaner

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aretw0/asyncworker/internal/logging"
	"github.com/aretw0/asyncworker/pkg/ports"
)

// Func adapts a function to ports.Cleaner.
type Func func()

// CleanUp implements ports.Cleaner.
func (f Func) CleanUp() { f() }

// Nop does nothing.
type Nop struct{}

// CleanUp implements ports.Cleaner.
func (Nop) CleanUp() {}

// FreeOSMemory forces a garbage collection and returns as much memory as possible to the OS.
var FreeOSMemory = Func(debug.FreeOSMemory)

// Chain runs cleaners in order. A panicking cleaner is logged and skipped.
type Chain struct {
	cleaners []ports.Cleaner
	logger   *slog.Logger
}

// ChainOption configures the Chain.
type ChainOption func(*Chain)

// WithLogger configures where recovered panics are logged.
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// NewChain creates a chain of cleaners.
func NewChain(cleaners []ports.Cleaner, opts ...ChainOption) *Chain {
	c := &Chain{
		cleaners: cleaners,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add appends a cleaner.
func (c *Chain) Add(cl ports.Cleaner) {
	c.cleaners = append(c.cleaners, cl)
}

// Len returns the number of cleaners.
func (c *Chain) Len() int {
	return len(c.cleaners)
}

// CleanUp implements ports.Cleaner.
func (c *Chain) CleanUp() {
	for i, cl := range c.cleaners {
		c.run(i, cl)
	}
}

func (c *Chain) run(i int, cl ports.Cleaner) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Cleaner panicked", "index", i, "err", fmt.Errorf("%v", r))
		}
	}()
	cl.CleanUp()
}
