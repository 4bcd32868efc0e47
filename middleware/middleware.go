// Package middleware provides composable middleware around executor calls.
// Middleware wraps each Submit and QueryStatus synchronously and can modify
// the call (bound it with a timeout, recover from panics, log, trace, etc.).
package middleware

import (
	"context"

	"github.com/xraph/jobpoller/id"
)

// Op names the executor operation being wrapped.
type Op string

const (
	OpSubmit      Op = "submit"
	OpQueryStatus Op = "query_status"
)

// Call describes one executor call made on behalf of a run.
type Call struct {
	Op     Op
	RunID  id.RunID
	SlotID string
	// JobID is empty for OpSubmit.
	JobID string
	// Attempt is the poll number this query will count as, or zero for
	// OpSubmit.
	Attempt int
}

// Handler is the terminal function that performs the executor call.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the call being made, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, c *Call, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, c, prev)
			}
		}
		return h(ctx)
	}
}
