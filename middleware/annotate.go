package middleware

import "context"

type callKey struct{}

// Annotate returns middleware that stores the Call in the context so the
// executor client can read it (for example to send the run ID as an
// idempotency key).
func Annotate() Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		return next(context.WithValue(ctx, callKey{}, *c))
	}
}

// CallFrom returns the Call stored by Annotate.
func CallFrom(ctx context.Context) (Call, bool) {
	c, ok := ctx.Value(callKey{}).(Call)
	return c, ok
}
