package asyncworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/asyncworker/internal/logging"
	"github.com/aretw0/asyncworker/pkg/adapters/file"
	"github.com/aretw0/asyncworker/pkg/adapters/memory"
	"github.com/aretw0/asyncworker/pkg/adapters/process"
	redisAdapter "github.com/aretw0/asyncworker/pkg/adapters/redis"
	"github.com/aretw0/asyncworker/pkg/cleaner"
	"github.com/aretw0/asyncworker/pkg/config"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/executor"
	"github.com/aretw0/asyncworker/pkg/lifecycle"
	"github.com/aretw0/asyncworker/pkg/notice"
	"github.com/aretw0/asyncworker/pkg/observability"
	"github.com/aretw0/asyncworker/pkg/persistence/middleware"
	"github.com/aretw0/asyncworker/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

// Version is overridden at build time with -ldflags "-X github.com/aretw0/asyncworker.Version=...".
var Version = "0.1.0-dev"

// Worker holds the backends and policies of one process and builds a controller per runner id.
type Worker struct {
	Config   config.Config
	Store    ports.RunnerStore
	Queue    ports.Queue
	Locker   ports.DistributedLocker
	Registry *executor.Registry
	Process  *process.Handler
	Cleaner  *cleaner.Chain
	Metrics  *observability.Metrics
	Gatherer *prometheus.Registry
	Operator *lifecycle.Operator

	notifier    ports.Notifier
	output      io.Writer
	hooks       []lifecycle.Hooks
	controlOpts []lifecycle.Option
	logger      *slog.Logger
	redis       *goredis.Client
}

// Option configures the Worker.
type Option func(*Worker)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithPassthru streams job output and notices to out.
func WithPassthru(out io.Writer) Option {
	return func(w *Worker) {
		w.output = out
	}
}

// WithHooks adds controller hooks next to the metrics ones.
func WithHooks(hooks lifecycle.Hooks) Option {
	return func(w *Worker) {
		w.hooks = append(w.hooks, hooks)
	}
}

// WithControllerOptions passes extra options to every controller.
func WithControllerOptions(opts ...lifecycle.Option) Option {
	return func(w *Worker) {
		w.controlOpts = append(w.controlOpts, opts...)
	}
}

// WithRedisClient uses an existing client instead of dialing cfg.Redis.
func WithRedisClient(client *goredis.Client) Option {
	return func(w *Worker) {
		w.redis = client
	}
}

// Open wires the backends selected by cfg.
func Open(cfg config.Config, opts ...Option) (*Worker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	w := &Worker{
		Config:   cfg,
		Registry: executor.NewRegistry(),
		Gatherer: prometheus.NewRegistry(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	usesRedis := cfg.Store.Backend == config.BackendRedis || cfg.Queue.Backend == config.BackendRedis
	if usesRedis && w.redis == nil {
		w.redis = redisAdapter.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		w.Store = memory.NewStore()
	case config.BackendFile:
		w.Store = file.New(cfg.Store.Dir)
	case config.BackendRedis:
		w.Store = redisAdapter.NewStore(w.redis, redisAdapter.WithPrefix(cfg.Redis.Prefix))
	}

	switch cfg.Queue.Backend {
	case config.BackendMemory:
		w.Queue = memory.NewQueue()
	case config.BackendRedis:
		w.Queue = redisAdapter.NewQueue(w.redis, redisAdapter.WithPrefix(cfg.Redis.Prefix))
	}

	if active, fallback, _ := cfg.EncryptionKeys(); active != nil {
		w.Queue = middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		})(w.Queue)
	}

	// A store without compare-and-swap borrows the Redis lock when one is reachable.
	if _, cas := w.Store.(ports.AtomicRunnerStore); !cas && w.redis != nil {
		w.Locker = redisAdapter.NewLocker(w.redis, cfg.Redis.Prefix)
	}

	commands, err := process.LoadCommands(cfg.Process.ToolsFile)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.Process = process.NewHandler(process.WithCommands(commands))
	w.Registry.Register(process.JobType, w.Process)

	w.Cleaner = cleaner.NewChain(nil, cleaner.WithLogger(w.logger))
	if cfg.Cleanup.FreeOSMemory {
		w.Cleaner.Add(cleaner.FreeOSMemory)
	}

	w.Metrics = observability.NewMetrics(w.Gatherer, observability.WithLogger(w.logger))
	w.Gatherer.MustRegister(
		observability.NewFleetCollector(w.Store, w.Queue, w.logger),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sinks := notice.Multi{notice.NewLogger(w.logger)}
	if w.output != nil {
		sinks = append(sinks, notice.NewConsole(w.output))
	}
	w.notifier = w.Metrics.Notifier(sinks)

	w.Operator = lifecycle.NewOperator(w.Store)
	return w, nil
}

// AddHooks registers controller hooks for controllers built from now on.
func (w *Worker) AddHooks(hooks lifecycle.Hooks) {
	w.hooks = append(w.hooks, hooks)
}

// Notifier returns the notice sink shared by controllers and executors.
func (w *Worker) Notifier() ports.Notifier {
	return w.notifier
}

// Controller builds the controller driving runnerID.
func (w *Worker) Controller(runnerID string) (*lifecycle.Controller, error) {
	execOpts := []executor.Option{
		executor.WithNotifier(w.notifier),
		executor.WithRunnerID(runnerID),
		executor.WithLogger(w.logger),
		executor.WithJobHook(w.Metrics.ObserveJob),
	}
	if w.output != nil {
		execOpts = append(execOpts, executor.WithOutput(w.output))
	}
	exec := executor.New(w.Queue, w.Registry, w.Config.Executor(), execOpts...)

	hooks := append([]lifecycle.Hooks{w.Metrics.Hooks()}, w.hooks...)
	opts := []lifecycle.Option{
		lifecycle.WithLogger(w.logger),
		lifecycle.WithHooks(lifecycle.MergeHooks(hooks...)),
	}
	if w.Locker != nil {
		opts = append(opts, lifecycle.WithLocker(w.Locker))
	}
	opts = append(opts, w.controlOpts...)

	return lifecycle.New(w.Config.Lifecycle(), lifecycle.Collaborators{
		Store:     w.Store,
		Transport: w.Queue,
		Queues:    w.Queue,
		Executor:  exec,
		Cleaner:   w.Cleaner,
		Notifier:  w.notifier,
	}, opts...)
}

// Listen runs one listen invocation for runnerID.
func (w *Worker) Listen(ctx context.Context, runnerID string) (lifecycle.Result, error) {
	ctrl, err := w.Controller(runnerID)
	if err != nil {
		return lifecycle.Result{}, err
	}
	res, err := ctrl.Listen(ctx, runnerID)
	if err == nil {
		w.Metrics.ObserveResult(runnerID, res)
	}
	return res, err
}

// Enqueue submits a job to the configured queue backend.
func (w *Worker) Enqueue(ctx context.Context, job *domain.Job) error {
	if job.Type == "" {
		return errors.New("job type is required")
	}
	if _, ok := w.Registry.Lookup(job.Type); !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.Type)
	}
	return w.Queue.Enqueue(ctx, job)
}

// Close releases the Redis connection, if any.
func (w *Worker) Close() error {
	if w.redis != nil {
		return w.redis.Close()
	}
	return nil
}
