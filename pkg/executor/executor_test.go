package executor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/asyncworker/pkg/adapters/memory"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, notice domain.Notice) {
	m.Called(ctx, notice)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type setup struct {
	clock    *clock
	queue    *memory.Queue
	registry *executor.Registry
}

func newSetup() *setup {
	c := &clock{now: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}
	return &setup{
		clock:    c,
		queue:    memory.NewQueue(memory.WithClock(c.Now)),
		registry: executor.NewRegistry(),
	}
}

func (s *setup) executor(cfg executor.Config, opts ...executor.Option) *executor.Executor {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	opts = append([]executor.Option{executor.WithClock(s.clock.Now)}, opts...)
	return executor.New(s.queue, s.registry, cfg, opts...)
}

func (s *setup) enqueue(t *testing.T, jobType string, payload map[string]any) *domain.Job {
	t.Helper()
	job := domain.NewJob(jobType, payload)
	require.NoError(t, s.queue.Enqueue(context.Background(), job))
	return job
}

func TestExecuteOne_EmptyQueue(t *testing.T) {
	s := newSetup()
	assert.False(t, s.executor(executor.Config{}).ExecuteOne(context.Background()))
}

func TestExecuteOne_Success(t *testing.T) {
	s := newSetup()
	var out bytes.Buffer

	type greeting struct {
		Name  string        `mapstructure:"name"`
		Delay time.Duration `mapstructure:"delay"`
	}
	s.registry.Register("greet", executor.HandlerFunc(func(ctx context.Context, job *domain.Job, w io.Writer) error {
		var g greeting
		if err := job.Decode(&g); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "hello %s after %s", g.Name, g.Delay)
		return err
	}))
	s.enqueue(t, "greet", map[string]any{"name": "ops", "delay": "2s"})

	var events []executor.JobEvent
	e := s.executor(executor.Config{},
		executor.WithOutput(&out),
		executor.WithJobHook(func(_ context.Context, ev executor.JobEvent) {
			events = append(events, ev)
		}),
	)

	assert.True(t, e.ExecuteOne(context.Background()))
	assert.Equal(t, "hello ops after 2s", out.String())

	require.Len(t, events, 1)
	assert.Equal(t, executor.StatusSucceeded, events[0].Status)
	assert.Equal(t, 1, events[0].Job.Attempts)

	stats, err := s.queue.Stats(context.Background(), domain.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Ready+stats.Delayed)
	assert.False(t, e.ExecuteOne(context.Background()), "the job is gone once completed")
}

func TestExecuteOne_RetryThenDiscard(t *testing.T) {
	s := newSetup()
	s.registry.Register("flaky", executor.HandlerFunc(func(context.Context, *domain.Job, io.Writer) error {
		return errors.New("boom")
	}))
	s.enqueue(t, "flaky", nil)

	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n domain.Notice) bool {
		return n.Level == domain.LevelAlert && n.RunnerID == "worker-1"
	})).Return().Once()

	var statuses []executor.Status
	e := s.executor(executor.Config{MaxAttempts: 2, RetryDelay: 10 * time.Second},
		executor.WithNotifier(notifier),
		executor.WithRunnerID("worker-1"),
		executor.WithJobHook(func(_ context.Context, ev executor.JobEvent) {
			statuses = append(statuses, ev.Status)
		}),
	)
	ctx := context.Background()

	// Attempt 1 fails and is delayed by RetryDelay x 1.
	assert.True(t, e.ExecuteOne(ctx), "a failed job still counts as executed")
	stats, err := s.queue.Stats(ctx, domain.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	s.clock.Advance(9 * time.Second)
	require.NoError(t, s.queue.AdvanceQueues(ctx))
	assert.False(t, e.ExecuteOne(ctx), "retry is not due yet")

	s.clock.Advance(time.Second)
	require.NoError(t, s.queue.AdvanceQueues(ctx))

	// Attempt 2 fails and exhausts the budget.
	assert.True(t, e.ExecuteOne(ctx))
	stats, err = s.queue.Stats(ctx, domain.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Ready+stats.Delayed)

	assert.Equal(t, []executor.Status{executor.StatusRetried, executor.StatusDiscarded}, statuses)
	notifier.AssertExpectations(t)
}

func TestExecuteOne_UnknownType(t *testing.T) {
	s := newSetup()
	s.enqueue(t, "mystery", nil)

	var got executor.JobEvent
	e := s.executor(executor.Config{MaxAttempts: 1}, executor.WithJobHook(func(_ context.Context, ev executor.JobEvent) {
		got = ev
	}))

	assert.True(t, e.ExecuteOne(context.Background()))
	assert.ErrorIs(t, got.Err, domain.ErrUnknownJobType)
	assert.Equal(t, executor.StatusDiscarded, got.Status)
}

func TestExecuteOne_PanicIsRecovered(t *testing.T) {
	s := newSetup()
	s.registry.Register("explode", executor.HandlerFunc(func(context.Context, *domain.Job, io.Writer) error {
		panic("kaboom")
	}))
	job := s.enqueue(t, "explode", nil)

	var got executor.JobEvent
	e := s.executor(executor.Config{MaxAttempts: 3}, executor.WithJobHook(func(_ context.Context, ev executor.JobEvent) {
		got = ev
	}))

	assert.NotPanics(t, func() {
		assert.True(t, e.ExecuteOne(context.Background()))
	})
	require.Error(t, got.Err)
	assert.Contains(t, got.Err.Error(), "kaboom")
	assert.Equal(t, executor.StatusRetried, got.Status)
	assert.Equal(t, job.ID, got.Job.ID)
	assert.Equal(t, "handler panicked: kaboom", got.Job.LastError)
}

func TestExecuteOne_JobMaxAttemptsWins(t *testing.T) {
	s := newSetup()
	s.registry.Register("flaky", executor.HandlerFunc(func(context.Context, *domain.Job, io.Writer) error {
		return errors.New("boom")
	}))
	job := domain.NewJob("flaky", nil)
	job.MaxAttempts = 1
	require.NoError(t, s.queue.Enqueue(context.Background(), job))

	var got executor.JobEvent
	e := s.executor(executor.Config{MaxAttempts: 5}, executor.WithJobHook(func(_ context.Context, ev executor.JobEvent) {
		got = ev
	}))
	assert.True(t, e.ExecuteOne(context.Background()))
	assert.Equal(t, executor.StatusDiscarded, got.Status)
}

func TestExecuteOne_QueueOrder(t *testing.T) {
	s := newSetup()
	var ran []string
	s.registry.Register("record", executor.HandlerFunc(func(_ context.Context, job *domain.Job, _ io.Writer) error {
		ran = append(ran, job.Queue)
		return nil
	}))

	low := domain.NewJob("record", nil)
	low.Queue = "low"
	high := domain.NewJob("record", nil)
	high.Queue = "high"
	require.NoError(t, s.queue.Enqueue(context.Background(), low))
	require.NoError(t, s.queue.Enqueue(context.Background(), high))

	e := s.executor(executor.Config{Queues: []string{"high", "low"}})
	assert.True(t, e.ExecuteOne(context.Background()))
	assert.True(t, e.ExecuteOne(context.Background()))
	assert.Equal(t, []string{"high", "low"}, ran)
}

func TestRegistry(t *testing.T) {
	r := executor.NewRegistry()
	noop := executor.HandlerFunc(func(context.Context, *domain.Job, io.Writer) error { return nil })
	r.Register("b", noop)
	r.Register("a", noop)

	_, ok := r.Lookup("a")
	assert.True(t, ok)
	_, ok = r.Lookup("c")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, r.Types())
}
