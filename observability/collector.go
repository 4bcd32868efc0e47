package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/jobpoller/workflow"
)

var _ prometheus.Collector = (*RunCollector)(nil)

// RunCollector exports store-derived gauges on every scrape:
//
//	jobpoller_active_runs{state}  non-terminal runs per state
//	jobpoller_store_up            1 when the last listing succeeded
//
// Counts come from the store, so every process behind a shared store
// reports the same values.
type RunCollector struct {
	store   workflow.Store
	timeout time.Duration
	logger  *slog.Logger

	active *prometheus.Desc
	up     *prometheus.Desc
}

// NewRunCollector creates a collector reading store. A nil logger means
// slog.Default().
func NewRunCollector(store workflow.Store, logger *slog.Logger) *RunCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunCollector{
		store:   store,
		timeout: 5 * time.Second,
		logger:  logger,
		active: prometheus.NewDesc(
			"jobpoller_active_runs",
			"Number of non-terminal runs by state.",
			[]string{"state"}, nil,
		),
		up: prometheus.NewDesc(
			"jobpoller_store_up",
			"Whether the run store answered the last scrape.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *RunCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.up
}

// Collect implements prometheus.Collector.
func (c *RunCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	runs, err := c.store.ListRuns(ctx, workflow.ListOpts{ActiveOnly: true})
	if err != nil {
		c.logger.Warn("run collector: list active runs", slog.String("error", err.Error()))
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	counts := make(map[workflow.State]int, 3)
	for _, r := range runs {
		counts[r.State]++
	}
	for _, state := range workflow.ActiveStates() {
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(counts[state]), string(state))
	}
}
