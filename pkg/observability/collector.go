package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/asyncworker/internal/logging"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// scrapeTimeout bounds the store and queue reads of one scrape.
const scrapeTimeout = 5 * time.Second

var (
	runnerStateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "runner", "state"),
		"Current runner state (1 for the active state).",
		[]string{"runner_id", "state"}, nil,
	)
	runnerCounterDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "runner", "events_total"),
		"Audit counters stored on the runner record.",
		[]string{"runner_id", "event"}, nil,
	)
	runnerDeadlineDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "runner", "deadline_timestamp_seconds"),
		"Deadline of the current or last run.",
		[]string{"runner_id"}, nil,
	)
	queueJobsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "queue", "jobs"),
		"Jobs waiting in a queue.",
		[]string{"queue", "status"}, nil,
	)
	scrapeErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "fleet", "scrape_error"),
		"1 if the last fleet scrape failed to read the store or the queues.",
		nil, nil,
	)
)

var runnerStates = []domain.RunnerState{domain.RunnerIdle, domain.RunnerListening, domain.RunnerTimeout}

// FleetCollector is a prometheus.Collector over the runner store and the queue backend.
// queue may be nil.
type FleetCollector struct {
	store  ports.RunnerStore
	queue  ports.Queue
	logger *slog.Logger
}

// NewFleetCollector creates the collector.
func NewFleetCollector(store ports.RunnerStore, queue ports.Queue, logger *slog.Logger) *FleetCollector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FleetCollector{store: store, queue: queue, logger: logger}
}

// Describe implements prometheus.Collector.
func (c *FleetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- runnerStateDesc
	ch <- runnerCounterDesc
	ch <- runnerDeadlineDesc
	ch <- queueJobsDesc
	ch <- scrapeErrorsDesc
}

// Collect implements prometheus.Collector.
func (c *FleetCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	failed := 0.0

	runners, err := c.store.List(ctx)
	if err != nil {
		c.logger.Error("Failed to list runners for metrics", "err", err)
		failed = 1
	}
	for _, r := range runners {
		for _, s := range runnerStates {
			v := 0.0
			if r.State == s {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(runnerStateDesc, prometheus.GaugeValue, v, r.ID, string(s))
		}

		counters := map[string]uint64{
			"start":       r.Counters.Starts,
			"stop":        r.Counters.Stops,
			"timeout":     r.Counters.Timeouts,
			"autorecover": r.Counters.Autorecoveries,
			"shutdown":    r.Counters.Shutdowns,
		}
		for event, n := range counters {
			ch <- prometheus.MustNewConstMetric(runnerCounterDesc, prometheus.CounterValue, float64(n), r.ID, event)
		}

		if !r.RunTimeout.IsZero() {
			ch <- prometheus.MustNewConstMetric(runnerDeadlineDesc, prometheus.GaugeValue, float64(r.RunTimeout.Unix()), r.ID)
		}
	}

	if c.queue != nil {
		names, err := c.queue.Names(ctx)
		if err != nil {
			c.logger.Error("Failed to list queues for metrics", "err", err)
			failed = 1
		}
		for _, name := range names {
			stats, err := c.queue.Stats(ctx, name)
			if err != nil {
				c.logger.Error("Failed to read queue stats", "queue", name, "err", err)
				failed = 1
				continue
			}
			ch <- prometheus.MustNewConstMetric(queueJobsDesc, prometheus.GaugeValue, float64(stats.Ready), name, "ready")
			ch <- prometheus.MustNewConstMetric(queueJobsDesc, prometheus.GaugeValue, float64(stats.Delayed), name, "delayed")
		}
	}

	ch <- prometheus.MustNewConstMetric(scrapeErrorsDesc, prometheus.GaugeValue, failed)
}
