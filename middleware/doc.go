// Package middleware provides composable middleware around executor calls.
//
// A [Middleware] wraps one Submit or QueryStatus call made by the workflow
// machine. Middleware are composed into a chain using [Chain]. They are
// applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → timeout → call
//	chain := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Recover(logger),
//	    middleware.Timeout(30*time.Second, 30*time.Second, logger),
//	)
//
// # Built-in Middleware
//
//   - [Logging]: logs op, run, job, duration and outcome of every call
//   - [Recover]: catches panics and converts them to errors
//   - [Timeout]: bounds Submit and QueryStatus with separate timeouts
//   - [Tracing]: wraps each call in an OpenTelemetry span
//   - [Metrics]: records per-op latency and outcome counters
//   - [Annotate]: exposes the [Call] to the executor client via the context
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
