package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/asyncworker/pkg/lifecycle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	mu      sync.Mutex
	calls   map[string]int
	block   chan struct{}
	started chan string
	err     error
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		calls:   make(map[string]int),
		started: make(chan string, 16),
	}
}

func (f *fakeListener) Listen(ctx context.Context, runnerID string) (lifecycle.Result, error) {
	f.mu.Lock()
	f.calls[runnerID]++
	f.mu.Unlock()
	select {
	case f.started <- runnerID:
	default:
	}

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return lifecycle.Result{Outcome: lifecycle.OutcomeInterrupted}, nil
		}
	}
	return lifecycle.Result{Outcome: lifecycle.OutcomePlannedStop}, f.err
}

func (f *fakeListener) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestNew(t *testing.T) {
	l := newFakeListener()

	_, err := New("@every 1m", []string{"r1"}, l)
	assert.NoError(t, err)

	_, err = New("0 2 * * *", []string{"r1"}, l)
	assert.NoError(t, err)

	_, err = New("not a schedule", []string{"r1"}, l)
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = New("@every 1m", nil, l)
	assert.Error(t, err)

	_, err = New("@every 1m", []string{"r1"}, nil)
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	l := newFakeListener()
	s, err := New("@every 1m", []string{"r1", "r2"}, l)
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, l.count("r1"))
	assert.Equal(t, 1, l.count("r2"))
	assert.Equal(t, 0, s.InFlight())
}

func TestRunOnce_ReportsError(t *testing.T) {
	l := newFakeListener()
	l.err = errors.New("store down")
	s, err := New("@every 1m", []string{"r1"}, l)
	require.NoError(t, err)

	err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "runner r1")
	assert.ErrorIs(t, err, l.err)
}

func TestRun_SkipsRunnerInFlight(t *testing.T) {
	l := newFakeListener()
	l.block = make(chan struct{})

	s, err := New("", []string{"r1"}, l, WithSchedule(everySchedule(10*time.Millisecond)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-l.started
	// Several ticks pass while the first invocation is still listening.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, l.count("r1"))
	assert.Equal(t, 1, s.InFlight())

	close(l.block)
	select {
	case <-l.started:
	case <-time.After(time.Second):
		t.Fatal("runner was not restarted after its window ended")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.GreaterOrEqual(t, l.count("r1"), 2)
}

func TestRun_FailuresAreReportedPerTick(t *testing.T) {
	l := newFakeListener()
	l.err = errors.New("store down")
	reg := prometheus.NewRegistry()

	s, err := New("", []string{"r1"}, l,
		WithSchedule(everySchedule(10*time.Millisecond)),
		WithRegisterer(reg),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// The failure is visible while Run is still going, and the runner keeps being retried.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(s.failures.WithLabelValues("r1")) >= 2
	}, time.Second, 5*time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "asyncworker_supervisor_listen_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "failures were already reported on their tick")
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.GreaterOrEqual(t, l.count("r1"), 2)
}
