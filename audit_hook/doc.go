// Package audithook is a jobpoller extension that turns run lifecycle
// notifications into audit records.
//
// Every hook emits an [AuditEvent] through a [Recorder]. Normal progress is
// recorded as info, poll failures and skipped triggers as warnings, and runs
// that end in FAILED or TIMED_OUT, or whose executor reports an unknown
// status, as critical.
//
//	eng, err := engine.Build(cfg, s, client,
//	    engine.WithExtension(audithook.New(audithook.SlogRecorder(auditLog))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionRunFailed,
//	        audithook.ActionStatusUnknown,
//	    ),
//	)
package audithook
