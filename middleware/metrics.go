package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for jobpoller metrics.
const meterName = "github.com/xraph/jobpoller"

// Metrics returns middleware that records per-call executor metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - jobpoller.executor.duration (Float64Histogram): call latency in
//     seconds, with attributes: op, status ("ok" or "error")
//   - jobpoller.executor.calls (Int64Counter): total calls,
//     with attributes: op, status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"jobpoller.executor.duration",
		metric.WithDescription("Duration of executor calls in seconds"),
		metric.WithUnit("s"),
	)
	calls, _ := meter.Int64Counter(
		"jobpoller.executor.calls",
		metric.WithDescription("Total number of executor calls"),
		metric.WithUnit("{call}"),
	)

	return func(ctx context.Context, c *Call, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("op", string(c.Op)),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		calls.Add(ctx, 1, attrs)
		return err
	}
}
