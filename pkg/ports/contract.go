package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRunnerStoreContract runs a suite of tests to verify that a RunnerStore implementation
// adheres to the defined interface contract.
func RunRunnerStoreContract(t *testing.T, store RunnerStore) {
	ctx := context.Background()
	runnerID := "contract-runner-" + time.Now().Format("20060102150405.000000")

	t.Run("Get Unknown Is Idle", func(t *testing.T) {
		r, err := store.Get(ctx, runnerID+"-fresh")
		require.NoError(t, err, "Get of an unknown runner should not fail")
		assert.Equal(t, runnerID+"-fresh", r.ID)
		assert.Equal(t, domain.RunnerIdle, r.State)
		assert.Equal(t, int64(0), r.Revision)
		assert.Equal(t, domain.Counters{}, r.Counters)
	})

	t.Run("Update and Get", func(t *testing.T) {
		r, err := store.Get(ctx, runnerID)
		require.NoError(t, err)

		started := time.Now().Truncate(time.Second)
		deadline := started.Add(90 * time.Minute)
		r.MarkListening(started, deadline, 4242)

		require.NoError(t, store.Update(ctx, r), "Update should not return error")
		assert.Greater(t, r.Revision, int64(0), "Update should assign a revision")

		loaded, err := store.Get(ctx, runnerID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunnerListening, loaded.State)
		assert.True(t, started.Equal(loaded.RunStarted), "RunStarted should round-trip")
		assert.True(t, deadline.Equal(loaded.RunTimeout), "RunTimeout should round-trip")
		assert.Equal(t, 4242, loaded.RunPID)
		assert.Equal(t, uint64(1), loaded.Counters.Starts)
		assert.Equal(t, r.Revision, loaded.Revision)
	})

	t.Run("Revision Increments", func(t *testing.T) {
		r, err := store.Get(ctx, runnerID)
		require.NoError(t, err)
		before := r.Revision

		r.RunShutdown = true
		require.NoError(t, store.Update(ctx, r))
		assert.Equal(t, before+1, r.Revision)

		loaded, err := store.Get(ctx, runnerID)
		require.NoError(t, err)
		assert.True(t, loaded.RunShutdown)
	})

	t.Run("Returned Records Are Copies", func(t *testing.T) {
		r, err := store.Get(ctx, runnerID)
		require.NoError(t, err)
		r.Counters.Stops = 999

		loaded, err := store.Get(ctx, runnerID)
		require.NoError(t, err)
		assert.NotEqual(t, uint64(999), loaded.Counters.Stops)
	})

	t.Run("List", func(t *testing.T) {
		id1 := runnerID + "-1"
		id2 := runnerID + "-2"
		require.NoError(t, store.Update(ctx, domain.NewRunner(id1)))
		require.NoError(t, store.Update(ctx, domain.NewRunner(id2)))

		runners, err := store.List(ctx)
		require.NoError(t, err)

		ids := make([]string, 0, len(runners))
		for _, r := range runners {
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}

// RunAtomicRunnerStoreContract verifies the compare-and-swap semantics of an AtomicRunnerStore.
func RunAtomicRunnerStoreContract(t *testing.T, store AtomicRunnerStore) {
	ctx := context.Background()
	runnerID := "contract-cas-" + time.Now().Format("20060102150405.000000")

	t.Run("First Claim Wins", func(t *testing.T) {
		a, err := store.Get(ctx, runnerID)
		require.NoError(t, err)
		b, err := store.Get(ctx, runnerID)
		require.NoError(t, err)

		now := time.Now()
		a.MarkListening(now, now.Add(time.Hour), 1)
		b.MarkListening(now, now.Add(time.Hour), 2)

		ok, err := store.CompareAndSwap(ctx, a)
		require.NoError(t, err)
		assert.True(t, ok, "first claim should succeed")

		ok, err = store.CompareAndSwap(ctx, b)
		require.NoError(t, err)
		assert.False(t, ok, "claim based on a stale revision should fail")

		loaded, err := store.Get(ctx, runnerID)
		require.NoError(t, err)
		assert.Equal(t, 1, loaded.RunPID)
	})

	t.Run("Current Revision Succeeds", func(t *testing.T) {
		r, err := store.Get(ctx, runnerID)
		require.NoError(t, err)
		before := r.Revision

		r.Reset()
		ok, err := store.CompareAndSwap(ctx, r)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, before+1, r.Revision)
	})

	t.Run("Concurrent Claims", func(t *testing.T) {
		id := runnerID + "-race"
		const contenders = 8

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(pid int) {
				defer wg.Done()
				r, err := store.Get(ctx, id)
				if !assert.NoError(t, err) {
					return
				}
				now := time.Now()
				r.MarkListening(now, now.Add(time.Hour), pid)
				ok, err := store.CompareAndSwap(ctx, r)
				if assert.NoError(t, err) && ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i + 1)
		}
		wg.Wait()

		assert.GreaterOrEqual(t, wins, 1)
		loaded, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(wins), loaded.Revision, "every successful claim must bump the revision exactly once")
	})
}

// RunQueueContract verifies that a Queue implementation honours ordering, delay and expiry semantics.
// It uses real time, so delays are kept short.
func RunQueueContract(t *testing.T, queue Queue) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("150405.000000") + "-"

	t.Run("Available", func(t *testing.T) {
		assert.True(t, queue.IsAvailable(ctx))
	})

	t.Run("FIFO", func(t *testing.T) {
		q := prefix + "fifo"
		first := domain.NewJob("noop", map[string]any{"n": 1})
		first.Queue = q
		second := domain.NewJob("noop", map[string]any{"n": 2})
		second.Queue = q

		require.NoError(t, queue.Enqueue(ctx, first))
		require.NoError(t, queue.Enqueue(ctx, second))

		got, err := queue.Dequeue(ctx, []string{q}, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "noop", got.Type)
		require.NoError(t, queue.Complete(ctx, got))

		got, err = queue.Dequeue(ctx, []string{q}, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, second.ID, got.ID)
		require.NoError(t, queue.Complete(ctx, got))

		got, err = queue.Dequeue(ctx, []string{q}, 0)
		require.NoError(t, err)
		assert.Nil(t, got, "empty queue should yield no job")

		names, err := queue.Names(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, q)
	})

	t.Run("Queue Order", func(t *testing.T) {
		high := prefix + "high"
		low := prefix + "low"

		lowJob := domain.NewJob("noop", nil)
		lowJob.Queue = low
		highJob := domain.NewJob("noop", nil)
		highJob.Queue = high
		require.NoError(t, queue.Enqueue(ctx, lowJob))
		require.NoError(t, queue.Enqueue(ctx, highJob))

		got, err := queue.Dequeue(ctx, []string{high, low}, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, highJob.ID, got.ID)
		require.NoError(t, queue.Complete(ctx, got))

		got, err = queue.Dequeue(ctx, []string{high, low}, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, lowJob.ID, got.ID)
		require.NoError(t, queue.Complete(ctx, got))
	})

	t.Run("Delayed Promotion Is Exactly Once", func(t *testing.T) {
		q := prefix + "delayed"
		job := domain.NewJob("noop", nil)
		job.Queue = q
		job.ReadyAt = time.Now().Add(300 * time.Millisecond)
		require.NoError(t, queue.Enqueue(ctx, job))

		stats, err := queue.Stats(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Delayed)
		assert.Equal(t, int64(0), stats.Ready)

		require.NoError(t, queue.AdvanceQueues(ctx))
		got, err := queue.Dequeue(ctx, []string{q}, 0)
		require.NoError(t, err)
		assert.Nil(t, got, "delayed job must not be dequeued before its ready time")

		time.Sleep(400 * time.Millisecond)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, queue.AdvanceQueues(ctx))
			}()
		}
		wg.Wait()

		stats, err = queue.Stats(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.Delayed)
		assert.Equal(t, int64(1), stats.Ready, "concurrent maintenance must promote the job once")

		got, err = queue.Dequeue(ctx, []string{q}, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, job.ID, got.ID)
		require.NoError(t, queue.Complete(ctx, got))
	})

	t.Run("Expired Jobs Are Discarded", func(t *testing.T) {
		q := prefix + "expiring"
		job := domain.NewJob("noop", nil)
		job.Queue = q
		job.ExpiresAt = time.Now().Add(200 * time.Millisecond)
		require.NoError(t, queue.Enqueue(ctx, job))

		time.Sleep(300 * time.Millisecond)
		require.NoError(t, queue.AdvanceQueues(ctx))

		stats, err := queue.Stats(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.Ready)

		got, err := queue.Dequeue(ctx, []string{q}, 0)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Expired On Dequeue", func(t *testing.T) {
		q := prefix + "expiring-dequeue"
		expired := domain.NewJob("noop", nil)
		expired.Queue = q
		expired.ExpiresAt = time.Now().Add(100 * time.Millisecond)
		fresh := domain.NewJob("noop", nil)
		fresh.Queue = q
		require.NoError(t, queue.Enqueue(ctx, expired))
		require.NoError(t, queue.Enqueue(ctx, fresh))

		time.Sleep(200 * time.Millisecond)

		got, err := queue.Dequeue(ctx, []string{q}, 0)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, fresh.ID, got.ID, "expired job should be skipped")
		require.NoError(t, queue.Complete(ctx, got))
	})
}
