package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for jobpoller tracing.
const tracerName = "github.com/xraph/jobpoller"

// Tracing returns middleware that wraps each executor call in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: jobpoller.run.id, jobpoller.slot.id,
// jobpoller.job.id and jobpoller.attempt.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		ctx, span := tracer.Start(ctx, "jobpoller.executor."+string(c.Op),
			trace.WithAttributes(
				attribute.String("jobpoller.run.id", c.RunID.String()),
				attribute.String("jobpoller.slot.id", c.SlotID),
				attribute.String("jobpoller.job.id", c.JobID),
				attribute.Int("jobpoller.attempt", c.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
