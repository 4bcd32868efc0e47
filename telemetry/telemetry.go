// Package telemetry installs the process-wide OpenTelemetry tracer and
// meter providers that the middleware and observability packages record
// into.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/xraph/jobpoller"
)

// Exporter names accepted in TelemetryConfig.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Providers holds what Setup installed.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider

	shutdown []func(context.Context) error
	logger   *slog.Logger
}

// Option configures Setup.
type Option func(*settings)

type settings struct {
	logger *slog.Logger
	writer io.Writer
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.logger = l } }

// WithWriter redirects the stdout exporter.
func WithWriter(w io.Writer) Option { return func(s *settings) { s.writer = w } }

// Setup builds providers for cfg and installs them globally along with a
// W3C trace-context propagator. With the "none" exporter only the
// propagator is installed and the returned Providers is empty.
func Setup(ctx context.Context, cfg jobpoller.TelemetryConfig, opts ...Option) (*Providers, error) {
	st := settings{logger: slog.Default(), writer: os.Stdout}
	for _, o := range opts {
		o(&st)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p := &Providers{logger: st.logger}
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return p, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "jobpoller"
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	spanExp, metricExp, err := newExporters(ctx, cfg, st.writer)
	if err != nil {
		return nil, err
	}

	p.Tracer = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)
	p.shutdown = append(p.shutdown, p.Tracer.Shutdown)

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.Meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
	)
	p.shutdown = append(p.shutdown, p.Meter.Shutdown)

	otel.SetTracerProvider(p.Tracer)
	otel.SetMeterProvider(p.Meter)

	st.logger.Info("telemetry started",
		slog.String("exporter", cfg.Exporter),
		slog.String("service_name", serviceName),
		slog.Float64("sample_ratio", cfg.SampleRatio),
	)
	return p, nil
}

func newExporters(ctx context.Context, cfg jobpoller.TelemetryConfig, w io.Writer) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		spanExp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: stdout trace exporter: %w", err)
		}
		metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: stdout metric exporter: %w", err)
		}
		return spanExp, metricExp, nil

	case ExporterOTLP:
		if cfg.Endpoint == "" {
			return nil, nil, errors.New("telemetry: otlp exporter needs an endpoint")
		}
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		spanExp, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("telemetry: otlp trace exporter: %w", err)
		}
		metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			_ = spanExp.Shutdown(ctx)
			return nil, nil, fmt.Errorf("telemetry: otlp metric exporter: %w", err)
		}
		return spanExp, metricExp, nil

	default:
		return nil, nil, fmt.Errorf("telemetry: unsupported exporter %q", cfg.Exporter)
	}
}

// Shutdown flushes and stops the providers in reverse order of creation.
// Each gets at most five seconds.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		c, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := p.shutdown[i](c); err != nil {
			errs = append(errs, err)
			p.logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
		cancel()
	}
	p.shutdown = nil
	return errors.Join(errs...)
}
