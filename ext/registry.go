package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

// Compile-time check: the registry is the machine's emitter.
var _ workflow.Emitter = (*Registry)(nil)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runStarted      []entry[RunStarted]
	runTransitioned []entry[RunTransitioned]
	runFinished     []entry[RunFinished]
	pollFailed      []entry[PollFailed]
	unknownStatus   []entry[UnknownStatus]
	triggerSkipped  []entry[TriggerSkipped]
	cronFired       []entry[CronFired]
	shutdown        []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
// Register is not safe to call concurrently with the emitters; register
// everything before the engine starts.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, entry[RunStarted]{name, h})
	}
	if h, ok := e.(RunTransitioned); ok {
		r.runTransitioned = append(r.runTransitioned, entry[RunTransitioned]{name, h})
	}
	if h, ok := e.(RunFinished); ok {
		r.runFinished = append(r.runFinished, entry[RunFinished]{name, h})
	}
	if h, ok := e.(PollFailed); ok {
		r.pollFailed = append(r.pollFailed, entry[PollFailed]{name, h})
	}
	if h, ok := e.(UnknownStatus); ok {
		r.unknownStatus = append(r.unknownStatus, entry[UnknownStatus]{name, h})
	}
	if h, ok := e.(TriggerSkipped); ok {
		r.triggerSkipped = append(r.triggerSkipped, entry[TriggerSkipped]{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, entry[CronFired]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runStarted {
		r.call("OnRunStarted", e.name, func() error { return e.hook.OnRunStarted(ctx, run) })
	}
}

// EmitRunTransitioned notifies all extensions that implement RunTransitioned.
func (r *Registry) EmitRunTransitioned(ctx context.Context, run *workflow.Run, evt *event.Event) {
	for _, e := range r.runTransitioned {
		r.call("OnRunTransitioned", e.name, func() error { return e.hook.OnRunTransitioned(ctx, run, evt) })
	}
}

// EmitRunFinished notifies all extensions that implement RunFinished.
func (r *Registry) EmitRunFinished(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	for _, e := range r.runFinished {
		r.call("OnRunFinished", e.name, func() error { return e.hook.OnRunFinished(ctx, run, elapsed) })
	}
}

// EmitPollFailed notifies all extensions that implement PollFailed.
func (r *Registry) EmitPollFailed(ctx context.Context, run *workflow.Run, pollErr error) {
	for _, e := range r.pollFailed {
		r.call("OnPollFailed", e.name, func() error { return e.hook.OnPollFailed(ctx, run, pollErr) })
	}
}

// EmitUnknownStatus notifies all extensions that implement UnknownStatus.
func (r *Registry) EmitUnknownStatus(ctx context.Context, run *workflow.Run, raw string) {
	for _, e := range r.unknownStatus {
		r.call("OnUnknownStatus", e.name, func() error { return e.hook.OnUnknownStatus(ctx, run, raw) })
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitTriggerSkipped notifies all extensions that implement TriggerSkipped.
func (r *Registry) EmitTriggerSkipped(ctx context.Context, slotID string, fireTime time.Time, activeRunID id.RunID) {
	for _, e := range r.triggerSkipped {
		r.call("OnTriggerSkipped", e.name, func() error {
			return e.hook.OnTriggerSkipped(ctx, slotID, fireTime, activeRunID)
		})
	}
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, runID id.RunID) {
	for _, e := range r.cronFired {
		r.call("OnCronFired", e.name, func() error { return e.hook.OnCronFired(ctx, entryName, runID) })
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.call("OnShutdown", e.name, func() error { return e.hook.OnShutdown(ctx) })
	}
}

// call runs one hook. Errors and panics from hooks are logged, never
// propagated: an extension must not break a run.
func (r *Registry) call(hook, extName string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logHookError(hook, extName, fmt.Errorf("panic: %v", p))
		}
	}()
	if err := fn(); err != nil {
		r.logHookError(hook, extName, err)
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
