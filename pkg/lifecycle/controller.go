package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aretw0/asyncworker/internal/logging"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/ports"
	"github.com/aretw0/asyncworker/pkg/window"
)

// maxWriteAttempts bounds how often a controller write is retried after
// another writer changed the record first.
const maxWriteAttempts = 5

var errWriteConflict = errors.New("runner record changed concurrently")

// Config is the deployment policy of the controller.
type Config struct {
	Window window.Config

	// Autorecover resets a runner abandoned by a crashed peer instead of
	// leaving it in the timeout state for an operator.
	Autorecover bool

	// RequireAtomicClaim refuses to run unless the listening claim can be made
	// atomic, either by a compare-and-swap store or a distributed locker.
	RequireAtomicClaim bool

	// ClaimTimeout bounds the wait for the distributed lock. Defaults to DefaultClaimTimeout.
	ClaimTimeout time.Duration
}

// Collaborators are the external parts driven by the controller.
// Cleaner and Notifier are optional.
type Collaborators struct {
	Store     ports.RunnerStore
	Transport ports.Transport
	Queues    ports.QueueMaintainer
	Executor  ports.JobExecutor
	Cleaner   ports.Cleaner
	Notifier  ports.Notifier
}

// Controller drives one runner id through preflight, the polling loop and the final reset.
// A Controller may serve several runner ids, but each Listen call is synchronous and
// single-threaded; fleet concurrency comes from independent processes sharing the store.
type Controller struct {
	deps Collaborators

	policy Config
	locker ports.DistributedLocker
	clock  Clock
	rand   window.Source
	pid    int
	logger *slog.Logger
	hooks  Hooks
}

// New validates the policy and wiring and returns a Controller.
func New(policy Config, deps Collaborators, opts ...Option) (*Controller, error) {
	if err := policy.Window.Validate(); err != nil {
		return nil, fmt.Errorf("invalid window policy: %w", err)
	}
	if deps.Store == nil || deps.Transport == nil || deps.Queues == nil || deps.Executor == nil {
		return nil, errors.New("store, transport, queues and executor are required")
	}
	if deps.Cleaner == nil {
		deps.Cleaner = nopCleaner{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if policy.ClaimTimeout <= 0 {
		policy.ClaimTimeout = DefaultClaimTimeout
	}

	c := &Controller{
		deps:   deps,
		policy: policy,
		clock:  systemClock{},
		pid:    os.Getpid(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if policy.RequireAtomicClaim && !c.atomicClaim() {
		return nil, domain.ErrAtomicClaimUnsupported
	}
	if !c.atomicClaim() {
		c.logger.Debug("listening claim is read-then-write; concurrent starts of the same runner id may both run")
	}

	return c, nil
}

func (c *Controller) atomicClaim() bool {
	_, cas := c.deps.Store.(ports.AtomicRunnerStore)
	return cas || c.locker != nil
}

// Listen runs one invocation for runnerID: preflight checks, then at most one polling
// window. Guard outcomes are reported in the Result; an error is only returned when the
// runner store cannot be read or written.
func (c *Controller) Listen(ctx context.Context, runnerID string) (Result, error) {
	if err := domain.ValidateRunnerID(runnerID); err != nil {
		return Result{}, err
	}

	available := c.deps.Transport.IsAvailable(ctx)

	runner := domain.NewRunner(runnerID)
	if available {
		var err error
		runner, err = c.deps.Store.Get(ctx, runnerID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load runner %s: %w", runnerID, err)
		}
	}

	var res Result
	attempts := 0
	for {
		verdict := Preflight(GuardInput{
			TransportAvailable: available,
			Runner:             *runner,
			Now:                c.clock.Now(),
			Autorecover:        c.policy.Autorecover,
		})

		switch verdict {
		case VerdictProceed:
			return c.run(ctx, runner, res)

		case VerdictAutorecover:
			from := runner.State
			runner.Counters.Autorecoveries++
			runner.Reset()
			ok, err := c.save(ctx, runner)
			if err != nil {
				return res, fmt.Errorf("failed to autorecover runner %s: %w", runnerID, err)
			}
			if !ok {
				if runner, err = c.reload(ctx, runnerID, &attempts); err != nil {
					return res, err
				}
				continue
			}
			c.notify(ctx, domain.LevelNotice, runnerID, "Autorecover runner after timeout.", "")
			c.transition(ctx, runnerID, from, runner.State, "autorecover")
			res.Autorecovered = true

		case VerdictTransportDown:
			c.notify(ctx, domain.LevelCritical, runnerID, "Transport is not available.", "")
			res.Outcome = OutcomeTransportUnavailable
			return res, nil

		case VerdictTimedOut:
			from := runner.State
			runner.Counters.Timeouts++
			runner.State = domain.RunnerTimeout
			ok, err := c.save(ctx, runner)
			if err != nil {
				return res, fmt.Errorf("failed to mark runner %s as timed out: %w", runnerID, err)
			}
			if !ok {
				if runner, err = c.reload(ctx, runnerID, &attempts); err != nil {
					return res, err
				}
				continue
			}
			c.notify(ctx, domain.LevelAlert, runnerID, "Runner has timed out.", "")
			c.transition(ctx, runnerID, from, runner.State, "timeout")
			res.Outcome = OutcomeTimedOut
			return res, nil

		case VerdictStuck:
			c.notify(ctx, domain.LevelAlert, runnerID, "Runner is timed out.", " Manual reset required.")
			res.Outcome = OutcomeStuck
			return res, nil

		case VerdictListening:
			c.notify(ctx, domain.LevelDebug, runnerID, "Runner is already listening.", "")
			res.Outcome = OutcomeAlreadyListening
			return res, nil

		case VerdictShutdown:
			ok, err := c.consumeShutdown(ctx, runner)
			if err != nil {
				return res, err
			}
			if !ok {
				if runner, err = c.reload(ctx, runnerID, &attempts); err != nil {
					return res, err
				}
				continue
			}
			res.Outcome = OutcomeShutdown
			return res, nil

		default:
			return res, fmt.Errorf("unexpected preflight verdict %s", verdict)
		}
	}
}

// run claims the runner and polls until the window ends, a shutdown is requested,
// or ctx is cancelled.
func (c *Controller) run(ctx context.Context, runner *domain.Runner, res Result) (Result, error) {
	now := c.clock.Now()
	w := window.Compute(c.policy.Window, now, c.rand)

	from := runner.State
	runner.MarkListening(now, w.Deadline, c.pid)

	claimed, err := c.claim(ctx, runner)
	if err != nil {
		return res, fmt.Errorf("failed to claim runner %s: %w", runner.ID, err)
	}
	if !claimed {
		c.notify(ctx, domain.LevelDebug, runner.ID, "Runner is already listening.", "")
		res.Outcome = OutcomeAlreadyListening
		return res, nil
	}
	c.transition(ctx, runner.ID, from, domain.RunnerListening, "start")
	c.notify(ctx, domain.LevelNotice, runner.ID, "Runner started!", " Listening for jobs...")
	c.logger.Debug("polling window computed",
		"runner_id", runner.ID,
		"window", w.Length,
		"window_end", w.End,
		"deadline", w.Deadline,
	)

	res.Window = w
	res.Outcome = OutcomePlannedStop

	for w.Contains(c.clock.Now()) {
		if ctx.Err() != nil {
			res.Outcome = OutcomeInterrupted
			break
		}

		started := c.clock.Now()
		executed := c.deps.Executor.ExecuteOne(ctx)
		res.Iterations++
		if executed {
			res.Executed++
			c.deps.Cleaner.CleanUp()
		}

		if ctx.Err() != nil {
			res.Outcome = OutcomeInterrupted
			break
		}

		current, err := c.deps.Store.Get(ctx, runner.ID)
		switch {
		case err != nil:
			c.notify(ctx, domain.LevelCritical, runner.ID, "Failed to check for a shutdown request: "+err.Error(), "")
		case !owns(current, runner):
			c.notify(ctx, domain.LevelAlert, runner.ID, "Runner was taken over by another process.", " Stopping without reset.")
			res.Outcome = OutcomeSuperseded
			return res, nil
		case current.RunShutdown:
			ok, err := c.consumeShutdown(ctx, current)
			if err != nil {
				return res, err
			}
			if !ok {
				// Changed again since the read; stop re-reads and settles it.
				return c.stop(ctx, runner, res)
			}
			res.Outcome = OutcomeShutdown
			return res, nil
		}

		if err := c.deps.Queues.AdvanceQueues(ctx); err != nil {
			c.notify(ctx, domain.LevelAlert, runner.ID, "Failed to advance queues: "+err.Error(), "")
		}

		if c.hooks.OnIteration != nil {
			c.hooks.OnIteration(ctx, IterationEvent{
				RunnerID:  runner.ID,
				Iteration: res.Iterations,
				Executed:  executed,
				Duration:  c.clock.Now().Sub(started),
			})
		}
	}

	return c.stop(ctx, runner, res)
}

// stop resets the runner at the end of its window. A shutdown request that
// arrives while the reset is being written is consumed, not overwritten.
func (c *Controller) stop(ctx context.Context, runner *domain.Runner, res Result) (Result, error) {
	// The reset must land even when ctx was cancelled.
	ctx = context.WithoutCancel(ctx)

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := c.deps.Store.Get(ctx, runner.ID)
		if err != nil {
			return res, fmt.Errorf("failed to load runner %s for stop: %w", runner.ID, err)
		}
		if !owns(current, runner) {
			c.notify(ctx, domain.LevelAlert, runner.ID, "Runner was taken over by another process.", " Stopping without reset.")
			res.Outcome = OutcomeSuperseded
			return res, nil
		}
		if current.RunShutdown {
			ok, err := c.consumeShutdown(ctx, current)
			if err != nil {
				return res, err
			}
			if !ok {
				continue
			}
			res.Outcome = OutcomeShutdown
			return res, nil
		}

		current.Counters.Stops++
		current.Reset()
		ok, err := c.save(ctx, current)
		if err != nil {
			return res, fmt.Errorf("failed to reset runner %s: %w", runner.ID, err)
		}
		if !ok {
			continue
		}

		reason := "stop"
		if res.Outcome == OutcomeInterrupted {
			reason = "interrupted"
		}
		c.transition(ctx, runner.ID, domain.RunnerListening, current.State, reason)

		if res.Outcome == OutcomeInterrupted {
			c.notify(ctx, domain.LevelNotice, runner.ID, "Listening interrupted!", " Waiting for restart...")
		} else {
			c.notify(ctx, domain.LevelNotice, runner.ID, "Planned shutdown!", " Waiting for restart...")
		}
		return res, nil
	}
	return res, fmt.Errorf("failed to reset runner %s: %w", runner.ID, errWriteConflict)
}

// consumeShutdown acknowledges an operator shutdown request. It reports false
// when the record changed since it was read; the caller re-reads and decides again.
func (c *Controller) consumeShutdown(ctx context.Context, runner *domain.Runner) (bool, error) {
	from := runner.State
	runner.Counters.Shutdowns++
	runner.Reset()
	ok, err := c.save(ctx, runner)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge shutdown of runner %s: %w", runner.ID, err)
	}
	if !ok {
		return false, nil
	}
	c.notify(ctx, domain.LevelNotice, runner.ID, "Shutdown request detected.", " Shutting down...")
	c.transition(ctx, runner.ID, from, runner.State, "shutdown")
	return true, nil
}

// save writes runner, conditional on its revision when the store supports
// compare-and-swap. It reports false when another writer got there first.
func (c *Controller) save(ctx context.Context, runner *domain.Runner) (bool, error) {
	if cas, ok := c.deps.Store.(ports.AtomicRunnerStore); ok {
		return cas.CompareAndSwap(ctx, runner)
	}
	return true, c.deps.Store.Update(ctx, runner)
}

// reload re-reads a record after a lost write, giving up after maxWriteAttempts.
func (c *Controller) reload(ctx context.Context, runnerID string, attempts *int) (*domain.Runner, error) {
	*attempts++
	if *attempts >= maxWriteAttempts {
		return nil, fmt.Errorf("runner %s: %w", runnerID, errWriteConflict)
	}
	runner, err := c.deps.Store.Get(ctx, runnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload runner %s: %w", runnerID, err)
	}
	return runner, nil
}

// claim persists the listening state, atomically when the wiring allows it.
func (c *Controller) claim(ctx context.Context, runner *domain.Runner) (bool, error) {
	if _, ok := c.deps.Store.(ports.AtomicRunnerStore); !ok && c.locker != nil {
		return c.claimWithLock(ctx, runner)
	}
	return c.save(ctx, runner)
}

func (c *Controller) claimWithLock(ctx context.Context, runner *domain.Runner) (bool, error) {
	lockCtx, cancel := context.WithTimeout(ctx, c.policy.ClaimTimeout)
	defer cancel()

	unlock, err := c.locker.Lock(lockCtx, "runner:"+runner.ID, c.policy.ClaimTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// Someone else is claiming right now.
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire claim lock: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("Failed to release claim lock (will expire via TTL)",
				"runner_id", runner.ID,
				"err", err,
			)
		}
	}()

	current, err := c.deps.Store.Get(ctx, runner.ID)
	if err != nil {
		return false, err
	}
	if current.Revision != runner.Revision {
		return false, nil
	}
	return true, c.deps.Store.Update(ctx, runner)
}

// owns reports whether the stored record is still the claim made by this invocation.
func owns(current, claimed *domain.Runner) bool {
	return current.IsListening() &&
		current.RunPID == claimed.RunPID &&
		current.RunStarted.Equal(claimed.RunStarted)
}

func (c *Controller) notify(ctx context.Context, level domain.Level, runnerID, msg, postfix string) {
	c.deps.Notifier.Notify(ctx, domain.Notice{
		Level:    level,
		RunnerID: runnerID,
		Message:  msg,
		Postfix:  postfix,
	})
}

func (c *Controller) transition(ctx context.Context, runnerID string, from, to domain.RunnerState, reason string) {
	if c.hooks.OnTransition == nil {
		return
	}
	c.hooks.OnTransition(ctx, TransitionEvent{
		Timestamp: c.clock.Now(),
		RunnerID:  runnerID,
		From:      from,
		To:        to,
		Reason:    reason,
	})
}

type nopCleaner struct{}

func (nopCleaner) CleanUp() {}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Notice) {}
