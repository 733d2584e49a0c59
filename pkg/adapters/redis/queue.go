package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// minBlock is the smallest BRPOP timeout: the server counts in seconds and 0 blocks forever.
const minBlock = time.Second

// advanceScript drops expired jobs, then moves due jobs from the delayed set to the ready list.
// Every move is guarded by ZREM, so concurrent runs promote a job exactly once.
//
// KEYS[1] delayed set, KEYS[2] expiring set, KEYS[3] ready list
// ARGV[1] now (unix ms), ARGV[2] job key prefix
var advanceScript = backend.NewScript(`
local now = ARGV[1]

local expired = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", now)
for _, id in ipairs(expired) do
	if redis.call("ZREM", KEYS[2], id) == 1 then
		redis.call("ZREM", KEYS[1], id)
		redis.call("LREM", KEYS[3], 0, id)
		redis.call("DEL", ARGV[2] .. id)
	end
end

local promoted = 0
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", now)
for _, id in ipairs(due) do
	if redis.call("ZREM", KEYS[1], id) == 1 then
		redis.call("LPUSH", KEYS[3], id)
		promoted = promoted + 1
	end
end
return promoted
`)

// Queue implements ports.Queue using Redis lists and sorted sets.
type Queue struct {
	client *backend.Client
	opts   options
}

// NewQueue creates a queue backend on an existing client.
func NewQueue(client *backend.Client, opts ...Option) *Queue {
	return &Queue{
		client: client,
		opts:   newOptions(opts),
	}
}

func (q *Queue) jobKey(id string) string       { return q.opts.prefix + "job:" + id }
func (q *Queue) readyKey(name string) string    { return q.opts.prefix + "queue:" + name }
func (q *Queue) delayedKey(name string) string  { return q.opts.prefix + "delayed:" + name }
func (q *Queue) expiringKey(name string) string { return q.opts.prefix + "expiring:" + name }
func (q *Queue) namesKey() string               { return q.opts.prefix + "queues" }

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// IsAvailable pings the server.
func (q *Queue) IsAvailable(ctx context.Context) bool {
	return q.client.Ping(ctx).Err() == nil
}

// Enqueue stores the job body and indexes it in a single transaction.
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) error {
	now := q.opts.now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Queue == "" {
		job.Queue = domain.DefaultQueue
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), data, 0)
		pipe.SAdd(ctx, q.namesKey(), job.Queue)
		if !job.ExpiresAt.IsZero() {
			pipe.ZAdd(ctx, q.expiringKey(job.Queue), backend.Z{Score: score(job.ExpiresAt), Member: job.ID})
		}
		if job.IsDelayed(now) {
			pipe.ZAdd(ctx, q.delayedKey(job.Queue), backend.Z{Score: score(job.ReadyAt), Member: job.ID})
		} else {
			pipe.LPush(ctx, q.readyKey(job.Queue), job.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue pops the oldest ready job, trying queues in order.
// With block > 0 it waits on BRPOP, rounded up to whole seconds.
func (q *Queue) Dequeue(ctx context.Context, queues []string, block time.Duration) (*domain.Job, error) {
	if len(queues) == 0 {
		return nil, nil
	}

	// Anything already waiting is served without blocking.
	job, err := q.popAny(ctx, queues)
	if err != nil || job != nil || block <= 0 {
		return job, err
	}

	keys := make([]string, len(queues))
	for i, name := range queues {
		keys[i] = q.readyKey(name)
	}

	deadline := time.Now().Add(block)
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		if wait < minBlock {
			wait = minBlock
		}

		res, err := q.client.BRPop(ctx, wait, keys...).Result()
		if err != nil {
			if errors.Is(err, backend.Nil) {
				return nil, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}

		// res is [key, id]
		job, err := q.claim(ctx, res[1])
		if err != nil || job != nil {
			return job, err
		}
	}
}

func (q *Queue) popAny(ctx context.Context, queues []string) (*domain.Job, error) {
	for _, name := range queues {
		for {
			id, err := q.client.RPop(ctx, q.readyKey(name)).Result()
			if errors.Is(err, backend.Nil) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to pop job: %w", err)
			}

			job, err := q.claim(ctx, id)
			if err != nil || job != nil {
				return job, err
			}
		}
	}
	return nil, nil
}

// claim loads a popped job. Missing and expired jobs yield (nil, nil).
func (q *Queue) claim(ctx context.Context, id string) (*domain.Job, error) {
	val, err := q.client.Get(ctx, q.jobKey(id)).Result()
	if errors.Is(err, backend.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	if job.IsExpired(q.opts.now()) {
		if err := q.Complete(ctx, &job); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &job, nil
}

// Complete deletes the job body and its expiry entry.
func (q *Queue) Complete(ctx context.Context, job *domain.Job) error {
	_, err := q.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, q.jobKey(job.ID))
		pipe.ZRem(ctx, q.expiringKey(job.Queue), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	return nil
}

// AdvanceQueues runs the maintenance script on every known queue.
func (q *Queue) AdvanceQueues(ctx context.Context) error {
	names, err := q.client.SMembers(ctx, q.namesKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list queues: %w", err)
	}

	now := strconv.FormatInt(q.opts.now().UnixMilli(), 10)
	var errs []error
	for _, name := range names {
		keys := []string{q.delayedKey(name), q.expiringKey(name), q.readyKey(name)}
		if err := advanceScript.Run(ctx, q.client, keys, now, q.opts.prefix+"job:").Err(); err != nil {
			errs = append(errs, fmt.Errorf("queue %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Stats implements ports.Queue.
func (q *Queue) Stats(ctx context.Context, name string) (ports.QueueStats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey(name))
	delayed := pipe.ZCard(ctx, q.delayedKey(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return ports.QueueStats{}, fmt.Errorf("failed to read stats of queue %s: %w", name, err)
	}
	return ports.QueueStats{
		Queue:   name,
		Ready:   ready.Val(),
		Delayed: delayed.Val(),
	}, nil
}

// Names implements ports.Queue.
func (q *Queue) Names(ctx context.Context) ([]string, error) {
	names, err := q.client.SMembers(ctx, q.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
