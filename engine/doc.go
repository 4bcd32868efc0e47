// Package engine wires the jobpoller subsystems together and is the
// application-level entry point.
//
// # Building an Engine
//
//	cfg, err := jobpoller.LoadConfig("jobpoller.yaml")
//	s, closeStore, err := engine.OpenStore(ctx, cfg.Store, logger)
//	client, err := engine.NewExecutor(cfg.Executor, logger)
//
//	eng, err := engine.Build(cfg, s, client,
//	    engine.WithLogger(logger),
//	    engine.WithExtension(myAlerts),
//	)
//
// # Running
//
// Start registers the configured cron entries, resumes every run a
// previous process left in CREATED, SUBMITTED or POLLING, and starts the
// cron scheduler. Stop interrupts executing runs without changing their
// state so the next Start resumes them.
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(shutdownCtx)
//
// # Triggering
//
//	res, err := eng.Trigger(ctx, coordinator.Trigger{SlotID: "nightly-report"})
//	if res.Skipped {
//	    // the slot already has an active run
//	}
//
// # Options
//
//   - [WithLogger] sets the logger shared by every subsystem
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds middleware around executor calls
//   - [WithClock] replaces the machine clock
//   - [WithCronOptions] tunes the cron scheduler
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
