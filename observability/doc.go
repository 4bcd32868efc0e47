// Package observability provides extensions that watch run lifecycles.
//
// MetricsExtension records OpenTelemetry counters and a duration histogram
// for runs, polls, triggers and cron fires. LoggingExtension writes one
// structured log line per lifecycle event. RunCollector exports the number
// of active runs per state in the Prometheus format.
//
// For per-call executor tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
