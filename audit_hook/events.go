package audithook

// Audit event actions.
const (
	ActionRunStarted     = "run.started"
	ActionRunSucceeded   = "run.succeeded"
	ActionRunFailed      = "run.failed"
	ActionRunTimedOut    = "run.timed_out"
	ActionRunCancelled   = "run.cancelled"
	ActionPollFailed     = "run.poll_failed"
	ActionStatusUnknown  = "run.status_unknown"
	ActionTriggerSkipped = "trigger.skipped"
	ActionCronFired      = "cron.fired"
)

// Audit event categories.
const (
	CategoryRun  = "jobpoller.run"
	CategoryCron = "jobpoller.cron"
)

// Resource types.
const (
	ResourceRun  = "run"
	ResourceSlot = "slot"
	ResourceCron = "cron_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRunStarted,
		ActionRunSucceeded,
		ActionRunFailed,
		ActionRunTimedOut,
		ActionRunCancelled,
		ActionPollFailed,
		ActionStatusUnknown,
		ActionTriggerSkipped,
		ActionCronFired,
	}
}
