package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/ext"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.RunStarted      = (*MetricsExtension)(nil)
	_ ext.RunTransitioned = (*MetricsExtension)(nil)
	_ ext.RunFinished     = (*MetricsExtension)(nil)
	_ ext.PollFailed      = (*MetricsExtension)(nil)
	_ ext.UnknownStatus   = (*MetricsExtension)(nil)
	_ ext.TriggerSkipped  = (*MetricsExtension)(nil)
	_ ext.CronFired       = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/jobpoller/observability"

// MetricsExtension records system-wide run lifecycle metrics through an
// OTel meter. Register it as an extension to track run starts and
// outcomes, transitions, failed polls, unknown statuses, skipped triggers
// and cron fires.
type MetricsExtension struct {
	RunStarted      metric.Int64Counter
	RunFinished     metric.Int64Counter
	RunDuration     metric.Float64Histogram
	RunTransitions  metric.Int64Counter
	PollFailed      metric.Int64Counter
	UnknownStatus   metric.Int64Counter
	TriggersSkipped metric.Int64Counter
	CronFired       metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Instrument creation errors yield noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.RunStarted, _ = meter.Int64Counter("jobpoller.run.started",
		metric.WithDescription("Runs created by a trigger"),
		metric.WithUnit("{run}"))
	m.RunFinished, _ = meter.Int64Counter("jobpoller.run.finished",
		metric.WithDescription("Runs that reached a terminal state"),
		metric.WithUnit("{run}"))
	m.RunDuration, _ = meter.Float64Histogram("jobpoller.run.duration",
		metric.WithDescription("Time from run start to terminal state"),
		metric.WithUnit("s"))
	m.RunTransitions, _ = meter.Int64Counter("jobpoller.run.transitions",
		metric.WithDescription("Persisted run state transitions"),
		metric.WithUnit("{transition}"))
	m.PollFailed, _ = meter.Int64Counter("jobpoller.poll.failed",
		metric.WithDescription("Status queries that failed and were retried"),
		metric.WithUnit("{poll}"))
	m.UnknownStatus, _ = meter.Int64Counter("jobpoller.status.unknown",
		metric.WithDescription("Status values outside the configured vocabulary"),
		metric.WithUnit("{poll}"))
	m.TriggersSkipped, _ = meter.Int64Counter("jobpoller.trigger.skipped",
		metric.WithDescription("Triggers dropped because the slot was busy"),
		metric.WithUnit("{trigger}"))
	m.CronFired, _ = meter.Int64Counter("jobpoller.cron.fired",
		metric.WithDescription("Cron entries fired"),
		metric.WithUnit("{fire}"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, run *workflow.Run) error {
	m.RunStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("slot", run.SlotID)))
	return nil
}

// OnRunTransitioned implements ext.RunTransitioned.
func (m *MetricsExtension) OnRunTransitioned(ctx context.Context, _ *workflow.Run, evt *event.Event) error {
	m.RunTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", evt.From),
		attribute.String("to", evt.To),
	))
	return nil
}

// OnRunFinished implements ext.RunFinished.
func (m *MetricsExtension) OnRunFinished(ctx context.Context, run *workflow.Run, elapsed time.Duration) error {
	attrs := metric.WithAttributes(
		attribute.String("slot", run.SlotID),
		attribute.String("state", string(run.State)),
		attribute.String("cause", string(run.Cause)),
	)
	m.RunFinished.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnPollFailed implements ext.PollFailed.
func (m *MetricsExtension) OnPollFailed(ctx context.Context, run *workflow.Run, _ error) error {
	m.PollFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("slot", run.SlotID)))
	return nil
}

// OnUnknownStatus implements ext.UnknownStatus.
func (m *MetricsExtension) OnUnknownStatus(ctx context.Context, run *workflow.Run, raw string) error {
	m.UnknownStatus.Add(ctx, 1, metric.WithAttributes(
		attribute.String("slot", run.SlotID),
		attribute.String("status", raw),
	))
	return nil
}

// OnTriggerSkipped implements ext.TriggerSkipped.
func (m *MetricsExtension) OnTriggerSkipped(ctx context.Context, slotID string, _ time.Time, _ id.RunID) error {
	m.TriggersSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("slot", slotID)))
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, runID id.RunID) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entry", entryName),
		attribute.Bool("skipped", runID.IsNil()),
	))
	return nil
}
