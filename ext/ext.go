// Package ext defines the extension system for jobpoller.
// Extensions are notified of run lifecycle events (transitions, failed
// polls, skipped triggers, etc.) and can react to them: logging, metrics,
// alerting, and so on.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called after a trigger created a new run.
type RunStarted interface {
	OnRunStarted(ctx context.Context, run *workflow.Run) error
}

// RunTransitioned is called after every persisted state transition.
type RunTransitioned interface {
	OnRunTransitioned(ctx context.Context, run *workflow.Run, evt *event.Event) error
}

// RunFinished is called once a run reaches a terminal state.
type RunFinished interface {
	OnRunFinished(ctx context.Context, run *workflow.Run, elapsed time.Duration) error
}

// PollFailed is called when a status query fails and will be retried.
type PollFailed interface {
	OnPollFailed(ctx context.Context, run *workflow.Run, err error) error
}

// UnknownStatus is called when the executor reports a status outside the
// configured vocabulary. Such runs keep polling until the deadline, so
// this hook is the place to raise an alert.
type UnknownStatus interface {
	OnUnknownStatus(ctx context.Context, run *workflow.Run, raw string) error
}

// ──────────────────────────────────────────────────
// Trigger hooks
// ──────────────────────────────────────────────────

// TriggerSkipped is called when a trigger is dropped because its slot
// already has an active run.
type TriggerSkipped interface {
	OnTriggerSkipped(ctx context.Context, slotID string, fireTime time.Time, activeRunID id.RunID) error
}

// CronFired is called when a cron entry fires and its trigger was accepted
// or skipped. runID is nil when the trigger was skipped.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, runID id.RunID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
