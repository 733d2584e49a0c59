// Package supervisor re-invokes Listen for a fixed set of runners on a cron schedule.
//
// A Listen invocation returns when its window ends, so something external has to
// start the next one. The supervisor plays that role inside a single process:
// on every tick it starts Listen for each configured runner that is not already
// listening here. Cross-process exclusion is left to the controller's claim.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/asyncworker/internal/logging"
	"github.com/aretw0/asyncworker/pkg/lifecycle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidSchedule is returned when the cron expression cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Listener is implemented by lifecycle.Controller.
type Listener interface {
	Listen(ctx context.Context, runnerID string) (lifecycle.Result, error)
}

// Supervisor keeps a set of runners listening.
type Supervisor struct {
	spec     string
	schedule cron.Schedule
	runners  []string
	listener Listener
	logger   *slog.Logger
	failures *prometheus.CounterVec

	mu       sync.Mutex
	inflight map[string]bool
}

// Option configures the Supervisor.
type Option func(*Supervisor)

// WithLogger configures a logger for scheduling events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithRegisterer registers the listen failure counter on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Supervisor) {
		reg.MustRegister(s.failures)
	}
}

// WithSchedule replaces the parsed schedule (tests).
func WithSchedule(schedule cron.Schedule) Option {
	return func(s *Supervisor) {
		s.schedule = schedule
	}
}

// New parses spec, a five-field cron expression or a descriptor such as "@every 1m".
func New(spec string, runners []string, listener Listener, opts ...Option) (*Supervisor, error) {
	if len(runners) == 0 {
		return nil, errors.New("supervisor: no runners configured")
	}
	if listener == nil {
		return nil, errors.New("supervisor: listener is required")
	}

	s := &Supervisor{
		spec:     spec,
		runners:  runners,
		listener: listener,
		logger:   logging.NewNop(),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asyncworker",
			Subsystem: "supervisor",
			Name:      "listen_failures_total",
			Help:      "Listen invocations started by the supervisor that returned an error.",
		}, []string{"runner_id"}),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.schedule == nil {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		schedule, err := parser.Parse(spec)
		if err != nil {
			return nil, errors.Join(ErrInvalidSchedule, err)
		}
		s.schedule = schedule
	}
	return s, nil
}

// NextRun returns the next scheduled tick from now.
func (s *Supervisor) NextRun() time.Time {
	return s.schedule.Next(time.Now())
}

// Run ticks immediately and then on every scheduled time until ctx is cancelled,
// then waits for in-flight invocations. A failed invocation is logged and counted
// when it returns and the runner is retried on the next tick; it never stops Run.
func (s *Supervisor) Run(ctx context.Context) error {
	var g errgroup.Group

	s.dispatch(ctx, &g, false)
	for {
		nextRun := s.schedule.Next(time.Now())
		wait := time.Until(nextRun)
		s.logger.Debug("waiting for next tick", "next_run", nextRun, "wait_duration", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("supervisor shutting down")
			return g.Wait()
		case <-timer.C:
			s.dispatch(ctx, &g, false)
		}
	}
}

// RunOnce starts every idle runner, waits for all of them and returns the first error.
func (s *Supervisor) RunOnce(ctx context.Context) error {
	var g errgroup.Group
	s.dispatch(ctx, &g, true)
	return g.Wait()
}

// InFlight returns how many runners are listening through this supervisor.
func (s *Supervisor) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// dispatch starts Listen for every idle runner. Unless propagate is set, errors
// stop at listen, which has already reported them.
func (s *Supervisor) dispatch(ctx context.Context, g *errgroup.Group, propagate bool) {
	for _, id := range s.runners {
		if !s.acquire(id) {
			s.logger.Debug("runner still listening, skipping", "runner_id", id)
			continue
		}
		g.Go(func() error {
			defer s.release(id)
			if err := s.listen(ctx, id); err != nil && propagate {
				return err
			}
			return nil
		})
	}
}

func (s *Supervisor) listen(ctx context.Context, id string) error {
	res, err := s.listener.Listen(ctx, id)
	if err != nil {
		s.failures.WithLabelValues(id).Inc()
		s.logger.Error("listen failed", "runner_id", id, "err", err)
		return fmt.Errorf("runner %s: %w", id, err)
	}
	s.logger.Info("listen finished",
		"runner_id", id,
		"outcome", res.Outcome.String(),
		"iterations", res.Iterations,
		"executed", res.Executed,
	)
	return nil
}

func (s *Supervisor) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Supervisor) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}
