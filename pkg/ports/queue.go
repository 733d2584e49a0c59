package ports

import (
	"context"
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
)

// Transport reports whether the queue backend can be reached.
type Transport interface {
	IsAvailable(ctx context.Context) bool
}

// QueueMaintainer promotes delayed jobs whose ready time has arrived and discards expired ones.
// It is fleet-wide, invoked by every active runner on every iteration, and must be idempotent
// under concurrent invocation: a delayed job is promoted exactly once.
type QueueMaintainer interface {
	AdvanceQueues(ctx context.Context) error
}

// QueueStats is a point-in-time view of one queue.
type QueueStats struct {
	Queue   string `json:"queue"`
	Ready   int64  `json:"ready"`
	Delayed int64  `json:"delayed"`
}

// Queue is the job backend shared by the fleet.
type Queue interface {
	Transport
	QueueMaintainer

	// Enqueue stores the job and places it on its ready list,
	// or in the delayed set if its ReadyAt lies in the future.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Dequeue pops the oldest ready job from the first non-empty queue, in the given order.
	// It waits up to block for a job and returns (nil, nil) when none arrived.
	// Expired jobs met on the way are discarded.
	Dequeue(ctx context.Context, queues []string, block time.Duration) (*domain.Job, error)

	// Complete removes the body of a finished or discarded job.
	Complete(ctx context.Context, job *domain.Job) error

	// Stats reports the ready and delayed counts of a queue.
	Stats(ctx context.Context, queue string) (QueueStats, error)

	// Names lists every queue that has ever received a job.
	Names(ctx context.Context) ([]string, error)
}
