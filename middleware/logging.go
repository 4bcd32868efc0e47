package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs every executor call and its outcome.
// Calls are logged at debug level; failures at warn level since the machine
// decides whether they are fatal.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c *Call, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		attrs := []any{
			slog.String("op", string(c.Op)),
			slog.String("run_id", c.RunID.String()),
			slog.String("slot_id", c.SlotID),
			slog.Duration("elapsed", elapsed),
		}
		if c.JobID != "" {
			attrs = append(attrs, slog.String("job_id", c.JobID), slog.Int("attempt", c.Attempt))
		}
		if err != nil {
			logger.Warn("executor call failed", append(attrs, slog.String("error", err.Error()))...)
		} else {
			logger.Debug("executor call completed", attrs...)
		}
		return err
	}
}
