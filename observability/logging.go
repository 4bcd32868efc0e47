package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/jobpoller/ext"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

var (
	_ ext.Extension      = (*LoggingExtension)(nil)
	_ ext.RunFinished    = (*LoggingExtension)(nil)
	_ ext.UnknownStatus  = (*LoggingExtension)(nil)
	_ ext.TriggerSkipped = (*LoggingExtension)(nil)
	_ ext.CronFired      = (*LoggingExtension)(nil)
	_ ext.Shutdown       = (*LoggingExtension)(nil)
)

// LoggingExtension writes a structured summary line for run outcomes and
// scheduling events. Failed and timed out runs log at warn level, unknown
// statuses at error level so they can drive alerts.
type LoggingExtension struct {
	logger *slog.Logger
}

// NewLoggingExtension creates a LoggingExtension. A nil logger means
// slog.Default().
func NewLoggingExtension(logger *slog.Logger) *LoggingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExtension{logger: logger.With(slog.String("component", "lifecycle"))}
}

// Name implements ext.Extension.
func (l *LoggingExtension) Name() string { return "observability-logging" }

// OnRunFinished implements ext.RunFinished.
func (l *LoggingExtension) OnRunFinished(ctx context.Context, run *workflow.Run, elapsed time.Duration) error {
	level := slog.LevelInfo
	if run.State != workflow.StateSucceeded {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "run finished",
		slog.String("run_id", run.ID.String()),
		slog.String("slot_id", run.SlotID),
		slog.String("job_id", run.JobID),
		slog.String("state", string(run.State)),
		slog.String("cause", string(run.Cause)),
		slog.Int("attempts", run.AttemptCount),
		slog.Duration("elapsed", elapsed),
		slog.String("error", run.Error),
	)
	return nil
}

// OnUnknownStatus implements ext.UnknownStatus.
func (l *LoggingExtension) OnUnknownStatus(ctx context.Context, run *workflow.Run, raw string) error {
	l.logger.ErrorContext(ctx, "executor reported an unknown status",
		slog.String("run_id", run.ID.String()),
		slog.String("slot_id", run.SlotID),
		slog.String("job_id", run.JobID),
		slog.String("status", raw),
		slog.Time("deadline", run.Deadline),
	)
	return nil
}

// OnTriggerSkipped implements ext.TriggerSkipped.
func (l *LoggingExtension) OnTriggerSkipped(ctx context.Context, slotID string, fireTime time.Time, activeRunID id.RunID) error {
	l.logger.InfoContext(ctx, "trigger skipped",
		slog.String("slot_id", slotID),
		slog.Time("fire_time", fireTime),
		slog.String("active_run_id", activeRunID.String()),
	)
	return nil
}

// OnCronFired implements ext.CronFired.
func (l *LoggingExtension) OnCronFired(ctx context.Context, entryName string, runID id.RunID) error {
	l.logger.DebugContext(ctx, "cron fired",
		slog.String("cron_name", entryName),
		slog.String("run_id", runID.String()),
	)
	return nil
}

// OnShutdown implements ext.Shutdown.
func (l *LoggingExtension) OnShutdown(ctx context.Context) error {
	l.logger.InfoContext(ctx, "engine shutting down")
	return nil
}
