package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/asyncworker/pkg/adapters/memory"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/lifecycle"
	"github.com/aretw0/asyncworker/pkg/window"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixedSource always returns v, capped to the valid range.
type fixedSource int64

func (s fixedSource) Int64N(n int64) int64 {
	if int64(s) >= n {
		return n - 1
	}
	return int64(s)
}

type fakeTransport struct {
	available bool
}

func (t *fakeTransport) IsAvailable(context.Context) bool { return t.available }

type countingQueues struct {
	calls int
	err   error
}

func (q *countingQueues) AdvanceQueues(context.Context) error {
	q.calls++
	return q.err
}

// scriptedExecutor advances the clock by step on every call and reports results[n-1].
type scriptedExecutor struct {
	clock   *fakeClock
	step    time.Duration
	results []bool
	calls   int
	onCall  func(n int)
}

func (e *scriptedExecutor) ExecuteOne(context.Context) bool {
	e.calls++
	if e.onCall != nil {
		e.onCall(e.calls)
	}
	e.clock.Advance(e.step)
	if e.calls <= len(e.results) {
		return e.results[e.calls-1]
	}
	return false
}

type countingCleaner struct {
	calls int
}

func (c *countingCleaner) CleanUp() { c.calls++ }

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, notice.Message)
	}
	return out
}

func (n *recordingNotifier) levelOf(msg string) (domain.Level, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, notice := range n.notices {
		if notice.Message == msg {
			return notice.Level, true
		}
	}
	return 0, false
}

// MockExecutor is used where an executor must not be touched at all.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) ExecuteOne(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// plainStore hides CompareAndSwap so that the controller falls back to other claim modes.
type plainStore struct {
	inner *memory.Store
}

func (s plainStore) Get(ctx context.Context, id string) (*domain.Runner, error) {
	return s.inner.Get(ctx, id)
}

func (s plainStore) Update(ctx context.Context, r *domain.Runner) error {
	return s.inner.Update(ctx, r)
}

func (s plainStore) List(ctx context.Context) ([]*domain.Runner, error) {
	return s.inner.List(ctx)
}

// racingStore lets a rival claim the runner right before every compare-and-swap.
type racingStore struct {
	*memory.Store
}

func (s racingStore) CompareAndSwap(ctx context.Context, r *domain.Runner) (bool, error) {
	rival, err := s.Store.Get(ctx, r.ID)
	if err != nil {
		return false, err
	}
	rival.MarkListening(r.RunStarted, r.RunTimeout, 999)
	if err := s.Store.Update(ctx, rival); err != nil {
		return false, err
	}
	return s.Store.CompareAndSwap(ctx, r)
}

// flakyStore fails the Get calls listed in failOn (1-based).
type flakyStore struct {
	*memory.Store
	mu     sync.Mutex
	gets   int
	failOn map[int]bool
}

func (s *flakyStore) Get(ctx context.Context, id string) (*domain.Runner, error) {
	s.mu.Lock()
	s.gets++
	fail := s.failOn[s.gets]
	s.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return s.Store.Get(ctx, id)
}

type fixture struct {
	clock     *fakeClock
	store     *memory.Store
	transport *fakeTransport
	queues    *countingQueues
	executor  *scriptedExecutor
	cleaner   *countingCleaner
	notifier  *recordingNotifier
}

func newFixture() *fixture {
	clock := &fakeClock{now: t0}
	return &fixture{
		clock:     clock,
		store:     memory.NewStore(),
		transport: &fakeTransport{available: true},
		queues:    &countingQueues{},
		executor:  &scriptedExecutor{clock: clock, step: time.Second},
		cleaner:   &countingCleaner{},
		notifier:  &recordingNotifier{},
	}
}

func defaultPolicy() lifecycle.Config {
	return lifecycle.Config{
		Window: window.Config{
			Runtime:           10 * time.Second,
			Fuzz:              0,
			TimeoutMultiplier: 1.5,
		},
	}
}

func (f *fixture) collaborators() lifecycle.Collaborators {
	return lifecycle.Collaborators{
		Store:     f.store,
		Transport: f.transport,
		Queues:    f.queues,
		Executor:  f.executor,
		Cleaner:   f.cleaner,
		Notifier:  f.notifier,
	}
}

func (f *fixture) controller(t *testing.T, policy lifecycle.Config, opts ...lifecycle.Option) *lifecycle.Controller {
	t.Helper()
	return f.controllerWith(t, policy, f.collaborators(), opts...)
}

func (f *fixture) controllerWith(t *testing.T, policy lifecycle.Config, deps lifecycle.Collaborators, opts ...lifecycle.Option) *lifecycle.Controller {
	t.Helper()
	opts = append([]lifecycle.Option{
		lifecycle.WithClock(f.clock),
		lifecycle.WithPID(100),
	}, opts...)
	c, err := lifecycle.New(policy, deps, opts...)
	require.NoError(t, err)
	return c
}

// seed writes a runner record built by fn.
func (f *fixture) seed(t *testing.T, id string, fn func(r *domain.Runner)) *domain.Runner {
	t.Helper()
	r := domain.NewRunner(id)
	fn(r)
	require.NoError(t, f.store.Update(context.Background(), r))
	return r
}

func (f *fixture) load(t *testing.T, id string) *domain.Runner {
	t.Helper()
	r, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

// interleavingStore calls after once the Get numbered at (1-based) has returned,
// as if another writer landed between that read and the controller's next write.
type interleavingStore struct {
	*memory.Store
	mu    sync.Mutex
	gets  int
	at    int
	after func()
}

func (s *interleavingStore) Get(ctx context.Context, id string) (*domain.Runner, error) {
	r, err := s.Store.Get(ctx, id)
	s.mu.Lock()
	s.gets++
	fire := s.gets == s.at
	s.mu.Unlock()
	if fire && s.after != nil {
		s.after()
	}
	return r, err
}
