// Package ext defines the extension system for jobpoller.
//
// Extensions are notified of run lifecycle events and can react to them:
// recording metrics, paging someone on an unknown status, writing audit
// logs. Each lifecycle hook is a separate interface so extensions opt in
// only to the events they care about.
//
// # Implementing an Extension
//
//	type Pager struct{}
//
//	func (p *Pager) Name() string { return "pager" }
//
//	func (p *Pager) OnUnknownStatus(ctx context.Context, run *workflow.Run, raw string) error {
//	    return page(ctx, "run %s got status %q", run.ID, raw)
//	}
//
// # Run Lifecycle Hooks
//
//   - [RunStarted]: a trigger created a run
//   - [RunTransitioned]: a state transition was persisted
//   - [RunFinished]: the run reached a terminal state
//   - [PollFailed]: a status query failed and will be retried
//   - [UnknownStatus]: the executor reported an unrecognised status
//
// # Other Hooks
//
//   - [TriggerSkipped]: a trigger was dropped because its slot was busy
//   - [CronFired]: a cron entry fired
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors and panics are
// logged and never affect the run.
package ext
