package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/ports"
	"github.com/google/uuid"
)

// Queue implements ports.Queue in memory. It is meant for tests and single-process use.
// Safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	ready     map[string][]string
	delayed   map[string]map[string]time.Time
	signal    chan struct{} // closed and replaced on every enqueue/promotion
	available bool
	now       func() time.Time
}

// QueueOption configures the Queue.
type QueueOption func(*Queue)

// WithClock replaces the clock used for delay and expiry decisions.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		q.now = now
	}
}

// NewQueue creates an empty, available queue backend.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		jobs:      make(map[string]*domain.Job),
		ready:     make(map[string][]string),
		delayed:   make(map[string]map[string]time.Time),
		signal:    make(chan struct{}),
		available: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetAvailable simulates the backend going away or coming back.
func (q *Queue) SetAvailable(available bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.available = available
}

// IsAvailable implements ports.Transport.
func (q *Queue) IsAvailable(ctx context.Context) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.available
}

// Enqueue stores a copy of the job.
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Queue == "" {
		job.Queue = domain.DefaultQueue
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}

	stored := cloneJob(job)
	q.jobs[stored.ID] = stored
	if _, ok := q.ready[stored.Queue]; !ok {
		q.ready[stored.Queue] = nil
	}

	if stored.IsDelayed(now) {
		if q.delayed[stored.Queue] == nil {
			q.delayed[stored.Queue] = make(map[string]time.Time)
		}
		q.delayed[stored.Queue][stored.ID] = stored.ReadyAt
		return nil
	}

	q.ready[stored.Queue] = append(q.ready[stored.Queue], stored.ID)
	q.broadcast()
	return nil
}

// Dequeue pops the oldest ready job of the first non-empty queue, waiting up to block.
func (q *Queue) Dequeue(ctx context.Context, queues []string, block time.Duration) (*domain.Job, error) {
	deadline := time.Now().Add(block)

	for {
		q.mu.Lock()
		job := q.pop(queues)
		wake := q.signal
		q.mu.Unlock()

		if job != nil {
			return job, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wake:
			timer.Stop()
		}
	}
}

// pop must be called with mu held.
func (q *Queue) pop(queues []string) *domain.Job {
	now := q.now()
	for _, name := range queues {
		for len(q.ready[name]) > 0 {
			id := q.ready[name][0]
			q.ready[name] = q.ready[name][1:]

			job, ok := q.jobs[id]
			if !ok {
				continue
			}
			if job.IsExpired(now) {
				delete(q.jobs, id)
				continue
			}
			return cloneJob(job)
		}
	}
	return nil
}

// Complete drops the job body.
func (q *Queue) Complete(ctx context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, job.ID)
	return nil
}

// AdvanceQueues discards expired jobs and promotes delayed jobs that became ready.
func (q *Queue) AdvanceQueues(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	promoted := 0

	for name, set := range q.delayed {
		// Promote in ready-time order so that FIFO holds across the delayed set.
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return set[ids[i]].Before(set[ids[j]])
		})

		for _, id := range ids {
			job, ok := q.jobs[id]
			switch {
			case !ok:
				delete(set, id)
			case job.IsExpired(now):
				delete(set, id)
				delete(q.jobs, id)
			case !set[id].After(now):
				delete(set, id)
				q.ready[name] = append(q.ready[name], id)
				promoted++
			}
		}
	}

	for name, ids := range q.ready {
		kept := ids[:0]
		for _, id := range ids {
			job, ok := q.jobs[id]
			if !ok {
				continue
			}
			if job.IsExpired(now) {
				delete(q.jobs, id)
				continue
			}
			kept = append(kept, id)
		}
		q.ready[name] = kept
	}

	if promoted > 0 {
		q.broadcast()
	}
	return nil
}

// Stats implements ports.Queue.
func (q *Queue) Stats(ctx context.Context, name string) (ports.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ready := 0
	for _, id := range q.ready[name] {
		if _, ok := q.jobs[id]; ok {
			ready++
		}
	}
	return ports.QueueStats{
		Queue:   name,
		Ready:   int64(ready),
		Delayed: int64(len(q.delayed[name])),
	}, nil
}

// Names implements ports.Queue.
func (q *Queue) Names(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names := make([]string, 0, len(q.ready))
	for name := range q.ready {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// broadcast must be called with mu held.
func (q *Queue) broadcast() {
	close(q.signal)
	q.signal = make(chan struct{})
}

func cloneJob(job *domain.Job) *domain.Job {
	c := *job
	c.Payload = make(map[string]any, len(job.Payload))
	for k, v := range job.Payload {
		c.Payload[k] = v
	}
	return &c
}
