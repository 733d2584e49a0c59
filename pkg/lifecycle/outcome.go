package lifecycle

import (
	"context"
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/window"
)

// Outcome is how one Listen invocation ended. None of them is an error:
// the caller is expected to invoke Listen again later.
type Outcome int

const (
	// OutcomePlannedStop means the window ran to its end and the runner was reset.
	OutcomePlannedStop Outcome = iota
	// OutcomeTransportUnavailable means the queue backend was down; nothing was written.
	OutcomeTransportUnavailable
	// OutcomeTimedOut means a stale runner was marked as timed out.
	OutcomeTimedOut
	// OutcomeStuck means the runner is already timed out and waits for a manual reset.
	OutcomeStuck
	// OutcomeAlreadyListening means another process holds the runner.
	OutcomeAlreadyListening
	// OutcomeShutdown means an operator shutdown request was consumed.
	OutcomeShutdown
	// OutcomeInterrupted means ctx was cancelled and the runner was reset early.
	OutcomeInterrupted
	// OutcomeSuperseded means another process took the runner over mid-window; it was left alone.
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomePlannedStop:
		return "planned_stop"
	case OutcomeTransportUnavailable:
		return "transport_unavailable"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeStuck:
		return "stuck"
	case OutcomeAlreadyListening:
		return "already_listening"
	case OutcomeShutdown:
		return "shutdown"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Result summarises one Listen invocation.
type Result struct {
	Outcome Outcome

	// Autorecovered is set when a stale runner was reset before the loop.
	Autorecovered bool

	// Window is zero unless the runner entered the listening state.
	Window window.Window

	Iterations int
	Executed   int
}

// TransitionEvent is emitted whenever the controller changes a runner record.
type TransitionEvent struct {
	Timestamp time.Time
	RunnerID  string
	From      domain.RunnerState
	To        domain.RunnerState
	Reason    string // start, stop, interrupted, timeout, autorecover, shutdown
}

// IterationEvent is emitted after every loop iteration.
type IterationEvent struct {
	RunnerID  string
	Iteration int
	Executed  bool
	Duration  time.Duration
}

// Hooks are optional observability callbacks. They run synchronously on the loop.
type Hooks struct {
	OnTransition func(context.Context, TransitionEvent)
	OnIteration  func(context.Context, IterationEvent)
}

// MergeHooks returns Hooks calling each of hooks in order.
func MergeHooks(hooks ...Hooks) Hooks {
	var merged Hooks
	for _, h := range hooks {
		if h.OnTransition != nil {
			prev, next := merged.OnTransition, h.OnTransition
			merged.OnTransition = func(ctx context.Context, e TransitionEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				next(ctx, e)
			}
		}
		if h.OnIteration != nil {
			prev, next := merged.OnIteration, h.OnIteration
			merged.OnIteration = func(ctx context.Context, e IterationEvent) {
				if prev != nil {
					prev(ctx, e)
				}
				next(ctx, e)
			}
		}
	}
	return merged
}
