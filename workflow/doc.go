// Package workflow defines runs, the run store interface and the state
// machine that drives a run against an external executor.
//
// A run submits one job, then polls the executor for the job's status until
// the job ends or the run's deadline passes.
//
// # State Machine
//
// A [Run] moves through these states:
//
//	CREATED → SUBMITTED → POLLING → SUCCEEDED
//	                        ↺ POLLING (job still running)
//	CREATED → FAILED                 (submission rejected)
//	POLLING → FAILED                 (job reported failure)
//	any non-terminal → TIMED_OUT     (deadline reached)
//	any non-terminal → CANCELLED     (operator request)
//
// Every transition is persisted with compare-and-swap on [Run.Version]
// before it is recorded in the event log and announced to the [Emitter].
//
// # Resuming
//
// The [Machine] keeps no state of its own. Handing a persisted non-terminal
// run to [Machine.Execute] continues it from its stored state: a POLLING run
// is never resubmitted, and its AttemptCount keeps counting.
//
// # Time
//
// All waiting goes through a [Clock]. Tests use workflowtest.Clock to run a
// multi-minute schedule instantly.
package workflow
