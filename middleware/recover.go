package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the call chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *Call, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("executor call panicked",
					slog.String("op", string(c.Op)),
					slog.String("run_id", c.RunID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in %s for run %s: %v", c.Op, c.RunID, r)
			}
		}()
		return next(ctx)
	}
}
