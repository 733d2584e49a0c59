// Package window computes the jittered polling window of a runner and the
// deadline after which a listening runner is presumed crashed.
//
// The window is runtime plus a uniform random amount in [0, fuzz], so that a fleet
// started at the same moment does not restart in lockstep. The deadline is the
// window scaled by the timeout multiplier, giving margin past the planned stop
// before a peer declares the runner dead.
package window

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Config is the per-deployment window policy.
type Config struct {
	Runtime           time.Duration
	Fuzz              time.Duration
	TimeoutMultiplier float64
}

// Validate rejects policies that would produce an empty window or a deadline
// earlier than the window end.
func (c Config) Validate() error {
	var errs []error
	if c.Runtime <= 0 {
		errs = append(errs, fmt.Errorf("runtime must be positive, got %s", c.Runtime))
	}
	if c.Fuzz < 0 {
		errs = append(errs, fmt.Errorf("fuzz must not be negative, got %s", c.Fuzz))
	}
	if c.TimeoutMultiplier < 1 {
		errs = append(errs, fmt.Errorf("timeout multiplier must be >= 1, got %g", c.TimeoutMultiplier))
	}
	return errors.Join(errs...)
}

// Source yields uniform random integers in [0, n).
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	Int64N(n int64) int64
}

// Window is one invocation's commitment: poll from Start until End,
// and consider the runner dead if it is still listening after Deadline.
type Window struct {
	Start    time.Time
	End      time.Time
	Deadline time.Time
	Length   time.Duration
}

// Compute derives the window starting at now.
func Compute(cfg Config, now time.Time, src Source) Window {
	length := cfg.Runtime + jitter(cfg.Fuzz, src)

	multiplier := cfg.TimeoutMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	return Window{
		Start:    now,
		End:      now.Add(length),
		Deadline: now.Add(time.Duration(float64(length) * multiplier)),
		Length:   length,
	}
}

// Contains reports whether t lies before the planned end of the window.
func (w Window) Contains(t time.Time) bool {
	return t.Before(w.End)
}

// jitter is uniform in [0, fuzz], inclusive on both ends.
func jitter(fuzz time.Duration, src Source) time.Duration {
	if fuzz <= 0 {
		return 0
	}
	if src == nil {
		src = globalSource{}
	}
	return time.Duration(src.Int64N(int64(fuzz) + 1))
}

// globalSource draws from the auto-seeded top-level generator.
type globalSource struct{}

func (globalSource) Int64N(n int64) int64 { return rand.Int64N(n) }
