package domain

import "time"

// RunnerState is the lifecycle state of a runner slot.
type RunnerState string

const (
	RunnerIdle      RunnerState = "idle"      // Free to be claimed by the next invocation
	RunnerListening RunnerState = "listening" // Held by a process polling for jobs
	RunnerTimeout   RunnerState = "timeout"   // Abandoned by a crashed or hung process
)

// Counters are the audit counters of a runner. They only ever grow.
type Counters struct {
	Starts         uint64 `json:"starts"`
	Stops          uint64 `json:"stops"`
	Timeouts       uint64 `json:"timeouts"`
	Autorecoveries uint64 `json:"autorecoveries"`
	Shutdowns      uint64 `json:"shutdowns"`
}

// Runner is the durable health record of one named worker slot.
// Records are created lazily on first reference and never deleted.
type Runner struct {
	ID    string      `json:"id"`
	State RunnerState `json:"state"`

	// RunStarted and RunTimeout are set when the runner enters the listening state.
	// RunTimeout is the deadline after which a later invocation presumes the holder dead.
	RunStarted time.Time `json:"run_started"`
	RunTimeout time.Time `json:"run_timeout"`

	// RunPID is informational only.
	RunPID int `json:"run_pid"`

	// RunShutdown is set by an operator and cleared by the controller.
	RunShutdown bool `json:"run_shutdown"`

	Counters Counters `json:"counters"`

	// Revision is assigned by the store on every write. Zero means never persisted.
	Revision  int64     `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRunner creates an idle record for the given id.
func NewRunner(id string) *Runner {
	return &Runner{
		ID:    id,
		State: RunnerIdle,
	}
}

// IsListening reports whether a process currently claims the runner.
func (r *Runner) IsListening() bool {
	return r.State == RunnerListening
}

// IsStale reports whether the runner is listening past its deadline.
func (r *Runner) IsStale(now time.Time) bool {
	return r.State == RunnerListening && now.After(r.RunTimeout)
}

// IsTimedOut reports whether the runner was already marked as abandoned.
func (r *Runner) IsTimedOut() bool {
	return r.State == RunnerTimeout
}

// Reset returns the runner to idle and clears a pending shutdown request.
// Run timestamps are kept as the record of the last run.
func (r *Runner) Reset() {
	r.State = RunnerIdle
	r.RunShutdown = false
}

// MarkListening claims the runner for a new polling window.
func (r *Runner) MarkListening(started, deadline time.Time, pid int) {
	r.State = RunnerListening
	r.RunStarted = started
	r.RunTimeout = deadline
	r.RunPID = pid
	r.Counters.Starts++
}

// Clone returns a copy that shares nothing with r.
func (r *Runner) Clone() *Runner {
	c := *r
	return &c
}
