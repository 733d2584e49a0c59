package asyncworker_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/asyncworker"
	"github.com/aretw0/asyncworker/pkg/adapters/file"
	"github.com/aretw0/asyncworker/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/asyncworker/pkg/adapters/redis"
	"github.com/aretw0/asyncworker/pkg/config"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/executor"
	"github.com/aretw0/asyncworker/pkg/lifecycle"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.Queue.Backend = config.BackendMemory
	cfg.Runner.Runtime = 300 * time.Millisecond
	cfg.Runner.Fuzz = 0
	cfg.Queue.PollInterval = 20 * time.Millisecond
	return cfg
}

func TestOpen_Memory(t *testing.T) {
	w, err := asyncworker.Open(memoryConfig())
	require.NoError(t, err)
	defer w.Close()

	assert.IsType(t, &memory.Store{}, w.Store)
	assert.IsType(t, &memory.Queue{}, w.Queue)
	assert.Nil(t, w.Locker, "compare-and-swap store needs no lock")
	assert.Equal(t, []string{"process"}, w.Registry.Types())
	assert.Equal(t, 0, w.Cleaner.Len())
}

func TestOpen_FileStoreBorrowsRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	cfg := config.Default()
	cfg.Store.Backend = config.BackendFile
	cfg.Store.Dir = filepath.Join(t.TempDir(), "runners")
	cfg.Queue.Backend = config.BackendRedis
	cfg.Cleanup.FreeOSMemory = true

	w, err := asyncworker.Open(cfg, asyncworker.WithRedisClient(client))
	require.NoError(t, err)
	defer w.Close()

	assert.IsType(t, &file.Store{}, w.Store)
	assert.IsType(t, &redisAdapter.Queue{}, w.Queue)
	assert.NotNil(t, w.Locker)
	assert.Equal(t, 1, w.Cleaner.Len())

	job := domain.NewJob("process", map[string]any{"command": "noop"})
	require.NoError(t, w.Enqueue(context.Background(), job))

	stats, err := w.Queue.Stats(context.Background(), domain.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Ready)
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	cfg := config.Default()
	cfg.Store.Backend = config.BackendRedis
	cfg.Queue.Backend = config.BackendRedis

	w, err := asyncworker.Open(cfg, asyncworker.WithRedisClient(client))
	require.NoError(t, err)
	defer w.Close()

	assert.IsType(t, &redisAdapter.Store{}, w.Store)
	assert.Nil(t, w.Locker)
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Runner.TimeoutMultiplier = 0.5

	_, err := asyncworker.Open(cfg)
	assert.Error(t, err)
}

func TestOpen_BadToolsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commands:\n  - name: broken\n"), 0644))

	cfg := memoryConfig()
	cfg.Process.ToolsFile = path

	_, err := asyncworker.Open(cfg)
	assert.Error(t, err)
}

func TestEnqueue_UnknownType(t *testing.T) {
	w, err := asyncworker.Open(memoryConfig())
	require.NoError(t, err)

	err = w.Enqueue(context.Background(), domain.NewJob("mail", nil))
	assert.ErrorIs(t, err, domain.ErrUnknownJobType)

	err = w.Enqueue(context.Background(), domain.NewJob("", nil))
	assert.Error(t, err)
}

func TestListen_EndToEnd(t *testing.T) {
	var out bytes.Buffer
	var transitions []string

	w, err := asyncworker.Open(memoryConfig(),
		asyncworker.WithPassthru(&out),
		asyncworker.WithHooks(lifecycle.Hooks{
			OnTransition: func(ctx context.Context, e lifecycle.TransitionEvent) {
				transitions = append(transitions, e.Reason)
			},
		}),
	)
	require.NoError(t, err)
	defer w.Close()

	w.Registry.Register("echo", executor.HandlerFunc(func(ctx context.Context, job *domain.Job, out io.Writer) error {
		_, err := io.WriteString(out, "hello from echo\n")
		return err
	}))
	require.NoError(t, w.Enqueue(context.Background(), domain.NewJob("echo", nil)))

	res, err := w.Listen(context.Background(), "worker-1")
	require.NoError(t, err)

	assert.Equal(t, lifecycle.OutcomePlannedStop, res.Outcome)
	assert.Equal(t, 1, res.Executed)
	assert.GreaterOrEqual(t, res.Iterations, 1)
	assert.Equal(t, []string{"start", "stop"}, transitions)

	r, err := w.Store.Get(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunnerIdle, r.State)
	assert.Equal(t, uint64(1), r.Counters.Starts)
	assert.Equal(t, uint64(1), r.Counters.Stops)

	assert.Contains(t, out.String(), "hello from echo")
	assert.Contains(t, out.String(), "Runner started!")
	assert.Contains(t, out.String(), "Planned shutdown!")

	assert.Equal(t, 1.0, testutil.ToFloat64(w.Metrics.Outcomes.WithLabelValues("worker-1", "planned_stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(w.Metrics.Jobs.WithLabelValues("echo", string(executor.StatusSucceeded))))
}

func TestListen_RequireAtomicClaim(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Backend = config.BackendFile
	cfg.Store.Dir = t.TempDir()
	cfg.Runner.RequireAtomicClaim = true

	w, err := asyncworker.Open(cfg)
	require.NoError(t, err)

	_, err = w.Listen(context.Background(), "worker-1")
	assert.ErrorIs(t, err, domain.ErrAtomicClaimUnsupported)
}

func TestOpen_EncryptedQueue(t *testing.T) {
	cfg := memoryConfig()
	// 32 zero bytes.
	cfg.Queue.EncryptionKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

	w, err := asyncworker.Open(cfg)
	require.NoError(t, err)
	defer w.Close()

	_, plain := w.Queue.(*memory.Queue)
	assert.False(t, plain, "queue is wrapped")

	var got string
	w.Registry.Register("echo", executor.HandlerFunc(func(ctx context.Context, job *domain.Job, out io.Writer) error {
		got, _ = job.Payload["secret"].(string)
		return nil
	}))
	require.NoError(t, w.Enqueue(context.Background(), domain.NewJob("echo", map[string]any{"secret": "s3cr3t"})))

	res, err := w.Listen(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, "s3cr3t", got)
}
