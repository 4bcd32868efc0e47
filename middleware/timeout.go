package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Timeout returns middleware that bounds each executor call: Submit by
// submit and QueryStatus by query. A zero duration leaves that operation
// unbounded. When the deadline is exceeded the call's context is
// cancelled and the executor client reports the failure.
func Timeout(submit, query time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		d := query
		if c.Op == OpSubmit {
			d = submit
		}
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("executor call timeout set",
			slog.String("op", string(c.Op)),
			slog.String("run_id", c.RunID.String()),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
