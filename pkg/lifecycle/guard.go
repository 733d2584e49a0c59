package lifecycle

import (
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
)

// Verdict is the decision of the preflight checks for one invocation.
type Verdict int

const (
	// VerdictProceed lets the invocation claim the runner and enter the loop.
	VerdictProceed Verdict = iota
	// VerdictTransportDown aborts without touching the store.
	VerdictTransportDown
	// VerdictTimedOut marks a stale runner as abandoned and aborts.
	VerdictTimedOut
	// VerdictStuck aborts on a runner already marked as abandoned.
	VerdictStuck
	// VerdictAutorecover resets a stale or abandoned runner and continues.
	VerdictAutorecover
	// VerdictListening aborts because another process holds the runner.
	VerdictListening
	// VerdictShutdown consumes an operator shutdown request and aborts.
	VerdictShutdown
)

func (v Verdict) String() string {
	switch v {
	case VerdictProceed:
		return "proceed"
	case VerdictTransportDown:
		return "transport_down"
	case VerdictTimedOut:
		return "timed_out"
	case VerdictStuck:
		return "stuck"
	case VerdictAutorecover:
		return "autorecover"
	case VerdictListening:
		return "listening"
	case VerdictShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// GuardInput is everything a preflight check may look at.
type GuardInput struct {
	TransportAvailable bool
	Runner             domain.Runner
	Now                time.Time
	Autorecover        bool
}

// Guard inspects the input and returns VerdictProceed to defer to the next guard.
type Guard func(in GuardInput) Verdict

// PreflightGuards is the ordered set of checks run before a runner may poll.
var PreflightGuards = []Guard{
	TransportGuard,
	DeadlineGuard,
	ListeningGuard,
	ShutdownGuard,
}

// Preflight runs the guards in order; the first non-proceed verdict wins.
func Preflight(in GuardInput, guards ...Guard) Verdict {
	if len(guards) == 0 {
		guards = PreflightGuards
	}
	for _, g := range guards {
		if v := g(in); v != VerdictProceed {
			return v
		}
	}
	return VerdictProceed
}

// TransportGuard aborts when the queue backend is unreachable.
func TransportGuard(in GuardInput) Verdict {
	if !in.TransportAvailable {
		return VerdictTransportDown
	}
	return VerdictProceed
}

// DeadlineGuard detects a holder that outlived its deadline, and runners
// left abandoned by an earlier invocation.
func DeadlineGuard(in GuardInput) Verdict {
	stale := in.Runner.IsStale(in.Now)
	abandoned := in.Runner.IsTimedOut()
	switch {
	case !stale && !abandoned:
		return VerdictProceed
	case in.Autorecover:
		return VerdictAutorecover
	case stale:
		return VerdictTimedOut
	default:
		return VerdictStuck
	}
}

// ListeningGuard keeps two processes off the same runner id.
func ListeningGuard(in GuardInput) Verdict {
	if in.Runner.IsListening() {
		return VerdictListening
	}
	return VerdictProceed
}

// ShutdownGuard honours an operator shutdown request before the loop starts.
func ShutdownGuard(in GuardInput) Verdict {
	if in.Runner.RunShutdown {
		return VerdictShutdown
	}
	return VerdictProceed
}
