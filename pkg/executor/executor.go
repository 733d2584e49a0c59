// Package executor dequeues and runs one job per call, the unit of work of a polling iteration.
// Failed jobs are retried with a linear backoff and discarded once out of attempts.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/asyncworker/internal/logging"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/ports"
)

const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 3
	DefaultRetryDelay   = 30 * time.Second
)

// Config controls dequeueing and the retry policy.
type Config struct {
	// Queues are polled in order; the first one with a ready job wins.
	Queues []string

	// PollInterval is how long a call waits for a job before reporting an idle iteration.
	PollInterval time.Duration

	// MaxAttempts applies to jobs that do not set their own. Zero means unlimited.
	MaxAttempts int

	// RetryDelay is multiplied by the attempt count to delay a retry.
	RetryDelay time.Duration
}

// Status is the result of one job execution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusRetried   Status = "retried"
	StatusDiscarded Status = "discarded"
)

// JobEvent describes one execution.
type JobEvent struct {
	Job      *domain.Job
	Status   Status
	Duration time.Duration
	Err      error
}

// Executor implements ports.JobExecutor on top of a ports.Queue.
type Executor struct {
	queue    ports.Queue
	registry *Registry
	cfg      Config

	out      io.Writer
	notifier ports.Notifier
	runnerID string
	logger   *slog.Logger
	now      func() time.Time
	onJob    func(context.Context, JobEvent)
}

// Option configures the Executor.
type Option func(*Executor)

// WithOutput sets where handler output goes. Defaults to io.Discard.
func WithOutput(w io.Writer) Option {
	return func(e *Executor) {
		e.out = w
	}
}

// WithNotifier sets the sink for discard alerts.
func WithNotifier(n ports.Notifier) Option {
	return func(e *Executor) {
		e.notifier = n
	}
}

// WithRunnerID tags notices with the runner executing the jobs.
func WithRunnerID(id string) Option {
	return func(e *Executor) {
		e.runnerID = id
	}
}

// WithLogger configures a logger for internal events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithClock replaces the clock used for retry scheduling.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithJobHook registers a callback run after every execution.
func WithJobHook(fn func(context.Context, JobEvent)) Option {
	return func(e *Executor) {
		e.onJob = fn
	}
}

// New creates an Executor. Missing config values take their defaults.
func New(queue ports.Queue, registry *Registry, cfg Config, opts ...Option) *Executor {
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{domain.DefaultQueue}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	e := &Executor{
		queue:    queue,
		registry: registry,
		cfg:      cfg,
		out:      io.Discard,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteOne runs at most one job and reports whether one ran, successfully or not.
func (e *Executor) ExecuteOne(ctx context.Context) bool {
	job, err := e.queue.Dequeue(ctx, e.cfg.Queues, e.cfg.PollInterval)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("Failed to dequeue job", "err", err)
		}
		return false
	}
	if job == nil {
		return false
	}

	if job.MaxAttempts == 0 {
		job.MaxAttempts = e.cfg.MaxAttempts
	}

	started := e.now()
	runErr := e.run(ctx, job)
	job.Attempts++

	event := JobEvent{Job: job, Duration: e.now().Sub(started), Err: runErr}
	if runErr == nil {
		event.Status = StatusSucceeded
		if err := e.queue.Complete(ctx, job); err != nil {
			e.logger.Error("Failed to complete job", "job_id", job.ID, "err", err)
		}
		e.logger.Debug("Job succeeded", "job_id", job.ID, "type", job.Type, "duration", event.Duration)
	} else {
		event.Status = e.fail(ctx, job, runErr)
	}

	if e.onJob != nil {
		e.onJob(ctx, event)
	}
	return true
}

// run invokes the handler, turning a panic into an error.
func (e *Executor) run(ctx context.Context, job *domain.Job) (err error) {
	h, ok := e.registry.Lookup(job.Type)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, job, e.out)
}

// fail schedules a retry or discards the job.
func (e *Executor) fail(ctx context.Context, job *domain.Job, cause error) Status {
	job.LastError = cause.Error()

	if job.CanRetry() {
		job.ReadyAt = e.now().Add(e.cfg.RetryDelay * time.Duration(job.Attempts))
		if err := e.queue.Enqueue(ctx, job); err != nil {
			e.logger.Error("Failed to requeue job", "job_id", job.ID, "err", err)
		} else {
			e.logger.Warn("Job failed, retry scheduled",
				"job_id", job.ID,
				"type", job.Type,
				"attempt", job.Attempts,
				"ready_at", job.ReadyAt,
				"err", cause,
			)
			return StatusRetried
		}
	}

	if err := e.queue.Complete(ctx, job); err != nil {
		e.logger.Error("Failed to discard job", "job_id", job.ID, "err", err)
	}
	if e.notifier != nil {
		e.notifier.Notify(ctx, domain.Notice{
			Level:    domain.LevelAlert,
			RunnerID: e.runnerID,
			Message:  fmt.Sprintf("Job %s (%s) discarded after %d attempts: %v", job.ID, job.Type, job.Attempts, cause),
		})
	}
	return StatusDiscarded
}
