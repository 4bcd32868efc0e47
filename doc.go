// Package jobpoller provides a durable job-polling workflow engine for Go.
// It submits an asynchronous unit of work to an external executor, polls the
// executor on a timer until the work succeeds or fails, and fires new runs on
// a cron cadence.
//
// jobpoller is designed as a library, not a service. Import it, configure a
// store and an executor client, and register cron entries.
//
// # Quick Start
//
//	eng, err := engine.Build(
//	    jobpoller.DefaultConfig(),
//	    memory.New(),
//	    httpexec.New("http://batch.internal"),
//	    engine.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	_, err = eng.RegisterCron(ctx, "nightly-export", "0 18 * * MON-FRI", params)
//
// # Architecture
//
// Each subsystem (workflow runs, run events, cron entries) defines its own
// store interface. A single backend implements all of them. Runs move through
// an explicit state machine (see package workflow); the coordinator package
// guarantees at most one active run per trigger slot and resumes unfinished
// runs after a restart.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package jobpoller
