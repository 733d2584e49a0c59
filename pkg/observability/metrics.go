package observability

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/aretw0/asyncworker/internal/logging"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/executor"
	"github.com/aretw0/asyncworker/pkg/lifecycle"
	"github.com/aretw0/asyncworker/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "asyncworker"

// Metrics holds the controller and executor instruments.
type Metrics struct {
	Transitions       *prometheus.CounterVec
	Iterations        *prometheus.CounterVec
	IterationDuration *prometheus.HistogramVec
	Outcomes          *prometheus.CounterVec
	Notices           *prometheus.CounterVec
	Jobs              *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec

	logger *slog.Logger
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithLogger logs every transition at info level.
func WithLogger(logger *slog.Logger) MetricsOption {
	return func(m *Metrics) {
		m.logger = logger
	}
}

// NewMetrics creates the instruments and registers them on reg.
func NewMetrics(reg prometheus.Registerer, opts ...MetricsOption) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_transitions_total",
			Help:      "Runner state changes made by the controller.",
		}, []string{"runner_id", "reason", "to"}),
		Iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iterations_total",
			Help:      "Polling loop iterations, by whether a job ran.",
		}, []string{"runner_id", "executed"}),
		IterationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iteration_duration_seconds",
			Help:      "Duration of one polling loop iteration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"runner_id"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listen_outcomes_total",
			Help:      "How listen invocations ended.",
		}, []string{"runner_id", "outcome"}),
		Notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "Operator notices emitted, by level.",
		}, []string{"level"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Executed jobs, by type and status.",
		}, []string{"type", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Handler duration per job type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	reg.MustRegister(
		m.Transitions,
		m.Iterations,
		m.IterationDuration,
		m.Outcomes,
		m.Notices,
		m.Jobs,
		m.JobDuration,
	)
	return m
}

// Hooks returns controller hooks feeding the instruments.
func (m *Metrics) Hooks() lifecycle.Hooks {
	return lifecycle.Hooks{
		OnTransition: func(ctx context.Context, e lifecycle.TransitionEvent) {
			m.logger.InfoContext(ctx, "runner_transition",
				"runner_id", e.RunnerID,
				"from", e.From,
				"to", e.To,
				"reason", e.Reason,
			)
			m.Transitions.WithLabelValues(e.RunnerID, e.Reason, string(e.To)).Inc()
		},
		OnIteration: func(ctx context.Context, e lifecycle.IterationEvent) {
			m.Iterations.WithLabelValues(e.RunnerID, strconv.FormatBool(e.Executed)).Inc()
			m.IterationDuration.WithLabelValues(e.RunnerID).Observe(e.Duration.Seconds())
		},
	}
}

// ObserveResult records how a listen invocation ended.
func (m *Metrics) ObserveResult(runnerID string, res lifecycle.Result) {
	m.Outcomes.WithLabelValues(runnerID, res.Outcome.String()).Inc()
}

// ObserveJob is an executor job hook.
func (m *Metrics) ObserveJob(ctx context.Context, e executor.JobEvent) {
	m.Jobs.WithLabelValues(e.Job.Type, string(e.Status)).Inc()
	m.JobDuration.WithLabelValues(e.Job.Type).Observe(e.Duration.Seconds())
}

// Notifier counts notices before passing them on to next.
func (m *Metrics) Notifier(next ports.Notifier) ports.Notifier {
	return &countingNotifier{next: next, notices: m.Notices}
}

type countingNotifier struct {
	next    ports.Notifier
	notices *prometheus.CounterVec
}

func (n *countingNotifier) Notify(ctx context.Context, notice domain.Notice) {
	n.notices.WithLabelValues(notice.Level.String()).Inc()
	if n.next != nil {
		n.next.Notify(ctx, notice)
	}
}
