package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/coordinator"
	"github.com/xraph/jobpoller/cron"
	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/executor"
	"github.com/xraph/jobpoller/ext"
	"github.com/xraph/jobpoller/id"
	mw "github.com/xraph/jobpoller/middleware"
	"github.com/xraph/jobpoller/observability"
	"github.com/xraph/jobpoller/poll"
	"github.com/xraph/jobpoller/status"
	"github.com/xraph/jobpoller/store"
	"github.com/xraph/jobpoller/workflow"
)

const instrumentationName = "github.com/xraph/jobpoller"

// Engine owns one process's view of the polling system.
type Engine struct {
	cfg         jobpoller.Config
	store       store.Store
	client      executor.Client
	extensions  *ext.Registry
	machine     *workflow.Machine
	coordinator *coordinator.Coordinator
	scheduler   *cron.Scheduler
	workerID    id.WorkerID
	logger      *slog.Logger

	resumeMu     sync.Mutex
	resumeCancel context.CancelFunc
	resumeDone   chan struct{}

	// Collected by options, applied in Build.
	clock          workflow.Clock
	userExts       []ext.Extension
	mws            []mw.Middleware
	cronOpts       []cron.SchedulerOption
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.userExts = append(eng.userExts, e) }
}

// WithMiddleware appends m to the executor call chain, inside the default
// middleware.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithClock replaces the machine's clock. Tests use workflowtest.Clock.
func WithClock(c workflow.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithCronOptions passes extra options to the cron scheduler.
func WithCronOptions(opts ...cron.SchedulerOption) Option {
	return func(eng *Engine) { eng.cronOpts = append(eng.cronOpts, opts...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the metrics extension. If not set, the global provider
// is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine over s and client.
func Build(cfg jobpoller.Config, s store.Store, client executor.Client, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, jobpoller.ErrNoStore
	}
	if client == nil {
		return nil, jobpoller.ErrNoExecutor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := &Engine{
		cfg:      cfg,
		store:    s,
		client:   client,
		workerID: id.NewWorkerID(),
		logger:   slog.Default(),
		clock:    workflow.RealClock(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	logger := eng.logger

	vocab := status.DefaultVocabulary().Merge(status.Vocabulary{
		Running:   cfg.Status.Running,
		Succeeded: cfg.Status.Succeeded,
		Failed:    cfg.Status.Failed,
	})
	classifier, err := status.NewClassifier(vocab)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", jobpoller.ErrInvalidConfig, err)
	}
	sched, err := poll.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Extensions: built-in observability first, then the caller's.
	eng.extensions = ext.NewRegistry(logger)
	if eng.meterProvider != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(instrumentationName + "/observability"),
		))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}
	eng.extensions.Register(observability.NewLoggingExtension(logger))
	for _, e := range eng.userExts {
		eng.extensions.Register(e)
	}

	// Executor call chain: recover → annotate → tracing → metrics → logging → timeout → caller's.
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}
	metricsMw := mw.Metrics()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	}
	chain := []mw.Middleware{
		mw.Recover(logger),
		mw.Annotate(),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(cfg.SubmitTimeout, cfg.QueryTimeout, logger),
	}
	chain = append(chain, eng.mws...)

	eng.machine = workflow.NewMachine(s, s, client,
		workflow.WithClassifier(classifier),
		workflow.WithScheduler(sched),
		workflow.WithMiddleware(mw.Chain(chain...)),
		workflow.WithEmitter(eng.extensions),
		workflow.WithClock(eng.clock),
		workflow.WithLogger(logger),
		workflow.WithFetchFinalStatus(cfg.FetchFinalStatus),
		workflow.WithOwner(eng.workerID.String()),
		workflow.WithLeaseTTL(cfg.LeaseTTL),
	)

	eng.coordinator = coordinator.New(s, s, eng.machine,
		coordinator.WithLogger(logger),
		coordinator.WithEmitter(eng.extensions),
		coordinator.WithDeadline(cfg.OverallDeadline),
		coordinator.WithMaxConcurrentRuns(cfg.MaxConcurrentRuns),
	)

	cronOpts := []cron.SchedulerOption{
		cron.WithTickInterval(cfg.Cron.TickInterval),
		cron.WithLockTTL(cfg.Cron.LockTTL),
	}
	cronOpts = append(cronOpts, eng.cronOpts...)
	eng.scheduler = cron.NewScheduler(s, eng.fire, eng.extensions, eng.workerID, logger, cronOpts...)

	return eng, nil
}

// fire adapts a cron firing to a coordinator trigger.
func (eng *Engine) fire(ctx context.Context, slotID string, fireTime time.Time, params []byte) (id.RunID, error) {
	res, err := eng.coordinator.OnTrigger(ctx, coordinator.Trigger{
		SlotID:     slotID,
		FireTime:   fireTime,
		Parameters: params,
	})
	if err != nil {
		return id.Nil, err
	}
	if res.Skipped {
		return id.Nil, nil
	}
	return res.Run.ID, nil
}

// Start registers the configured cron entries, resumes every non-terminal
// run left by a previous process, starts the resume scan and starts the
// cron scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	for _, c := range eng.cfg.Crons {
		if err := eng.ensureCron(ctx, c); err != nil {
			return err
		}
	}

	n, err := eng.coordinator.ResumeAll(ctx)
	if err != nil {
		eng.logger.Warn("failed to resume runs", slog.String("error", err.Error()))
	} else if n > 0 {
		eng.logger.Info("resumed runs", slog.Int("count", n))
	}
	eng.startResumeLoop()

	if eng.cfg.Cron.Disabled {
		return nil
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return nil
}

// Stop stops the cron scheduler and the coordinator. Runs still executing
// are interrupted and stay resumable; Stop waits for their goroutines up
// to ctx's deadline.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.extensions.EmitShutdown(ctx)
	eng.stopResumeLoop(ctx)

	if !eng.cfg.Cron.Disabled {
		if err := eng.scheduler.Stop(ctx); err != nil {
			eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
		}
	}
	return eng.coordinator.Stop(ctx)
}

func (eng *Engine) startResumeLoop() {
	eng.resumeMu.Lock()
	defer eng.resumeMu.Unlock()
	if eng.cfg.ResumeInterval <= 0 || eng.resumeCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	eng.resumeCancel = cancel
	eng.resumeDone = make(chan struct{})
	go eng.resumeLoop(ctx, eng.resumeDone)
}

func (eng *Engine) stopResumeLoop(ctx context.Context) {
	eng.resumeMu.Lock()
	cancel, done := eng.resumeCancel, eng.resumeDone
	eng.resumeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// resumeLoop periodically launches active runs that no worker executes:
// runs created by a detached trigger, runs released by a stopped worker
// and runs whose owner died and whose lease lapsed.
func (eng *Engine) resumeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(eng.cfg.ResumeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := eng.coordinator.ResumeAll(ctx)
		switch {
		case errors.Is(err, jobpoller.ErrShutdown):
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			eng.logger.Warn("resume scan failed", slog.String("error", err.Error()))
		case n > 0:
			eng.logger.Info("picked up runs", slog.Int("count", n))
		}
	}
}

// Trigger admits a trigger for a slot.
func (eng *Engine) Trigger(ctx context.Context, t coordinator.Trigger) (*coordinator.Result, error) {
	return eng.coordinator.OnTrigger(ctx, t)
}

// Cancel cancels a run. Cancelling a terminal run returns it unchanged.
func (eng *Engine) Cancel(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return eng.coordinator.Cancel(ctx, runID)
}

// GetRun retrieves a run.
func (eng *Engine) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return eng.store.GetRun(ctx, runID)
}

// ListRuns lists runs, newest first.
func (eng *Engine) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	return eng.store.ListRuns(ctx, opts)
}

// ListEvents returns a run's event log.
func (eng *Engine) ListEvents(ctx context.Context, runID id.RunID) ([]*event.Event, error) {
	return eng.store.ListEvents(ctx, runID)
}

// RegisterCron creates a cron entry firing slot name on schedule. It fails
// with jobpoller.ErrDuplicateCron if the name is taken.
func (eng *Engine) RegisterCron(ctx context.Context, name, schedule string, params []byte) (*cron.Entry, error) {
	entry, err := cron.NewEntry(name, schedule, params, eng.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := eng.store.RegisterCron(ctx, entry); err != nil {
		return nil, err
	}
	eng.logger.Info("cron registered",
		slog.String("name", entry.Name),
		slog.String("schedule", entry.Schedule),
		slog.Time("next_run_at", *entry.NextRunAt),
	)
	return entry, nil
}

// RegisterCronDefinition registers a typed cron definition. Registering a
// name that already exists is a no-op.
func RegisterCronDefinition[T any](ctx context.Context, eng *Engine, def cron.Definition[T]) error {
	entry, err := def.Entry(eng.clock.Now())
	if err != nil {
		return err
	}
	if err := eng.store.RegisterCron(ctx, entry); err != nil {
		if errors.Is(err, jobpoller.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron %q: %w", def.Name, err)
	}
	return nil
}

// ensureCron makes the stored entry named c.Name match c. A changed
// schedule recomputes the next firing.
func (eng *Engine) ensureCron(ctx context.Context, c jobpoller.CronEntryConfig) error {
	params := []byte(c.Parameters)
	if len(params) == 0 {
		params = nil
	}
	_, err := eng.RegisterCron(ctx, c.Name, c.Schedule, params)
	if err == nil || !errors.Is(err, jobpoller.ErrDuplicateCron) {
		return err
	}

	entries, err := eng.store.ListCrons(ctx)
	if err != nil {
		return fmt.Errorf("list crons: %w", err)
	}
	for _, e := range entries {
		if e.Name != c.Name {
			continue
		}
		if e.Schedule == c.Schedule && string(e.Parameters) == string(params) {
			return nil
		}
		fresh, err := cron.NewEntry(c.Name, c.Schedule, params, eng.clock.Now())
		if err != nil {
			return err
		}
		e.Schedule = fresh.Schedule
		e.Parameters = fresh.Parameters
		e.NextRunAt = fresh.NextRunAt
		e.UpdatedAt = fresh.UpdatedAt
		if err := eng.store.UpdateCronEntry(ctx, e); err != nil {
			return fmt.Errorf("update cron %q: %w", c.Name, err)
		}
		eng.logger.Info("cron updated", slog.String("name", c.Name), slog.String("schedule", c.Schedule))
		return nil
	}
	return nil
}

// ListCrons returns all cron entries.
func (eng *Engine) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	return eng.store.ListCrons(ctx)
}

// DeleteCron removes a cron entry.
func (eng *Engine) DeleteCron(ctx context.Context, entryID id.CronID) error {
	return eng.store.DeleteCron(ctx, entryID)
}

// Ping checks the store.
func (eng *Engine) Ping(ctx context.Context) error { return eng.store.Ping(ctx) }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Machine returns the state machine.
func (eng *Engine) Machine() *workflow.Machine { return eng.machine }

// Coordinator returns the run coordinator.
func (eng *Engine) Coordinator() *coordinator.Coordinator { return eng.coordinator }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Store returns the store.
func (eng *Engine) Store() store.Store { return eng.store }

// WorkerID identifies this process in cron locks.
func (eng *Engine) WorkerID() id.WorkerID { return eng.workerID }

// Config returns the configuration the engine was built with.
func (eng *Engine) Config() jobpoller.Config { return eng.cfg }
