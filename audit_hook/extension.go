package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/jobpoller/ext"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.RunStarted     = (*Extension)(nil)
	_ ext.RunFinished    = (*Extension)(nil)
	_ ext.PollFailed     = (*Extension)(nil)
	_ ext.UnknownStatus  = (*Extension)(nil)
	_ ext.TriggerSkipped = (*Extension)(nil)
	_ ext.CronFired      = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc adapts a function to a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder writes every audit event as a structured log record on
// logger, at a level matching its severity.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("category", evt.Category),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension records run lifecycle notifications through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension recording through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnRunStarted implements ext.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, run *workflow.Run) error {
	return e.record(ctx, ActionRunStarted, SeverityInfo, OutcomeSuccess,
		ResourceRun, run.ID.String(), CategoryRun, "",
		"slot_id", run.SlotID,
		"scheduled_at", run.ScheduledAt.Format(time.RFC3339),
		"deadline", run.Deadline.Format(time.RFC3339),
	)
}

// OnRunFinished implements ext.RunFinished.
func (e *Extension) OnRunFinished(ctx context.Context, run *workflow.Run, elapsed time.Duration) error {
	action, severity, outcome := ActionRunSucceeded, SeverityInfo, OutcomeSuccess
	switch run.State {
	case workflow.StateFailed:
		action, severity, outcome = ActionRunFailed, SeverityCritical, OutcomeFailure
	case workflow.StateTimedOut:
		action, severity, outcome = ActionRunTimedOut, SeverityCritical, OutcomeFailure
	case workflow.StateCancelled:
		action, severity, outcome = ActionRunCancelled, SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, action, severity, outcome,
		ResourceRun, run.ID.String(), CategoryRun, run.Error,
		"slot_id", run.SlotID,
		"job_id", run.JobID,
		"cause", string(run.Cause),
		"polls", run.AttemptCount,
		"last_status", run.LastStatus,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnPollFailed implements ext.PollFailed.
func (e *Extension) OnPollFailed(ctx context.Context, run *workflow.Run, pollErr error) error {
	return e.record(ctx, ActionPollFailed, SeverityWarning, OutcomeFailure,
		ResourceRun, run.ID.String(), CategoryRun, pollErr.Error(),
		"slot_id", run.SlotID,
		"job_id", run.JobID,
		"poll", run.AttemptCount,
	)
}

// OnUnknownStatus implements ext.UnknownStatus.
func (e *Extension) OnUnknownStatus(ctx context.Context, run *workflow.Run, raw string) error {
	return e.record(ctx, ActionStatusUnknown, SeverityCritical, OutcomeFailure,
		ResourceRun, run.ID.String(), CategoryRun, fmt.Sprintf("executor reported %q", raw),
		"slot_id", run.SlotID,
		"job_id", run.JobID,
		"status", raw,
	)
}

// OnTriggerSkipped implements ext.TriggerSkipped.
func (e *Extension) OnTriggerSkipped(ctx context.Context, slotID string, fireTime time.Time, activeRunID id.RunID) error {
	return e.record(ctx, ActionTriggerSkipped, SeverityWarning, OutcomeFailure,
		ResourceSlot, slotID, CategoryRun, "slot has an active run",
		"fire_time", fireTime.Format(time.RFC3339),
		"active_run_id", activeRunID.String(),
	)
}

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, entryName string, runID id.RunID) error {
	return e.record(ctx, ActionCronFired, SeverityInfo, OutcomeSuccess,
		ResourceCron, entryName, CategoryCron, "",
		"run_id", runID.String(),
		"skipped", runID.IsNil(),
	)
}

// record sends an audit event if the action is enabled. kvPairs become
// the event metadata. Recorder errors are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
