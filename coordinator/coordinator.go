// Package coordinator turns triggers into runs and owns their executions.
//
// A Coordinator admits at most one active run per slot, launches each
// admitted run on its own goroutine through a workflow.Machine, resumes
// persisted runs after a restart and stops them on shutdown. It creates
// runs but never changes their state; that is the Machine's job.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

// Trigger asks for a run of a slot.
type Trigger struct {
	// SlotID names the logical job. At most one run per slot is active.
	SlotID string `json:"slot_id"`

	// FireTime is when the trigger was scheduled to fire. Redelivering a
	// trigger with the same FireTime does not start a second run. A zero
	// FireTime means now.
	FireTime time.Time `json:"fire_time"`

	// Parameters are submitted to the executor as-is.
	Parameters []byte `json:"parameters,omitempty"`

	// Detached creates the run without executing it in this process. A
	// started engine on the same store picks it up on its next resume
	// scan.
	Detached bool `json:"detached,omitempty"`
}

// Result reports what OnTrigger did.
type Result struct {
	// Run is the created run, or the run that caused the skip.
	Run *workflow.Run `json:"run,omitempty"`

	// Skipped is true when the trigger was a no-op.
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// Skip reasons.
const (
	ReasonSlotActive = "slot has an active run"
	ReasonDuplicate  = "fire time already handled"
)

// Emitter receives coordinator notifications. ext.Registry satisfies it.
type Emitter interface {
	EmitRunStarted(ctx context.Context, run *workflow.Run)
	EmitTriggerSkipped(ctx context.Context, slotID string, fireTime time.Time, activeRunID id.RunID)
}

type nopEmitter struct{}

func (nopEmitter) EmitRunStarted(context.Context, *workflow.Run)                   {}
func (nopEmitter) EmitTriggerSkipped(context.Context, string, time.Time, id.RunID) {}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithEmitter sets the notification emitter.
func WithEmitter(e Emitter) Option {
	return func(c *Coordinator) { c.emitter = e }
}

// WithDeadline sets the budget of every new run. Defaults to five minutes.
func WithDeadline(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.budget = d
		}
	}
}

// WithMaxConcurrentRuns limits how many runs execute at once. Runs over
// the limit wait for a free slot. Zero means unlimited.
func WithMaxConcurrentRuns(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(int64(n))
		} else {
			c.sem = nil
		}
	}
}

// execution is one run executing in this process.
type execution struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Coordinator admits triggers and executes runs.
type Coordinator struct {
	store   workflow.Store
	events  *event.Log
	machine *workflow.Machine
	emitter Emitter
	logger  *slog.Logger
	budget  time.Duration
	sem     *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	// admit serializes admission so that check-then-create is atomic
	// within this process. The store guards across processes.
	admit sync.Mutex

	mu      sync.Mutex
	active  map[string]*execution
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Coordinator executing runs with machine.
func New(store workflow.Store, events event.Store, machine *workflow.Machine, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancelCause(context.Background())
	c := &Coordinator{
		store:      store,
		machine:    machine,
		emitter:    nopEmitter{},
		logger:     slog.Default(),
		budget:     5 * time.Minute,
		baseCtx:    ctx,
		baseCancel: cancel,
		active:     make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = event.NewLog(events, machine.Clock().Now)
	return c
}

// OnTrigger admits t. A trigger for a slot that already has an active run,
// or one redelivered with the FireTime of the slot's latest run, is a no-op
// reported with Skipped set and a nil error.
func (c *Coordinator) OnTrigger(ctx context.Context, t Trigger) (*Result, error) {
	t.SlotID = strings.TrimSpace(t.SlotID)
	if t.SlotID == "" {
		return nil, fmt.Errorf("%w: slot id is required", jobpoller.ErrInvalidTrigger)
	}
	if c.isStopped() {
		return nil, jobpoller.ErrShutdown
	}

	now := c.machine.Clock().Now().UTC()
	if t.FireTime.IsZero() {
		t.FireTime = now
	}

	c.admit.Lock()
	defer c.admit.Unlock()

	active, err := c.store.GetActiveRun(ctx, t.SlotID)
	switch {
	case err == nil:
		return c.skip(ctx, t, active, ReasonSlotActive), nil
	case !errors.Is(err, jobpoller.ErrRunNotFound):
		return nil, fmt.Errorf("coordinator: look up active run of %s: %w", t.SlotID, err)
	}

	latest, err := c.store.GetLatestRun(ctx, t.SlotID)
	switch {
	case err == nil && latest.ScheduledAt.Equal(t.FireTime):
		return c.skip(ctx, t, latest, ReasonDuplicate), nil
	case err != nil && !errors.Is(err, jobpoller.ErrRunNotFound):
		return nil, fmt.Errorf("coordinator: look up latest run of %s: %w", t.SlotID, err)
	}

	run := workflow.NewRun(t.SlotID, t.FireTime, t.Parameters, now, c.budget)
	if err := c.store.CreateRun(ctx, run); err != nil {
		if !errors.Is(err, jobpoller.ErrSlotActive) {
			return nil, fmt.Errorf("coordinator: create run for %s: %w", t.SlotID, err)
		}
		// Another process admitted a run first.
		winner, getErr := c.store.GetActiveRun(ctx, t.SlotID)
		if getErr != nil {
			return &Result{Skipped: true, Reason: ReasonSlotActive}, nil
		}
		return c.skip(ctx, t, winner, ReasonSlotActive), nil
	}

	c.logger.Info("run created",
		slog.String("run_id", run.ID.String()),
		slog.String("slot_id", run.SlotID),
		slog.Time("fire_time", t.FireTime),
		slog.Time("deadline", run.Deadline),
	)
	c.emitter.EmitRunStarted(ctx, run.Clone())

	result := &Result{Run: run.Clone()}
	if !t.Detached {
		c.launch(run)
	}
	return result, nil
}

// skip records a dropped trigger against the run that caused it.
func (c *Coordinator) skip(ctx context.Context, t Trigger, blocking *workflow.Run, reason string) *Result {
	c.logger.Info("trigger skipped",
		slog.String("slot_id", t.SlotID),
		slog.Time("fire_time", t.FireTime),
		slog.String("run_id", blocking.ID.String()),
		slog.String("state", string(blocking.State)),
		slog.String("reason", reason),
	)
	if _, err := c.events.Append(ctx, &event.Event{
		Kind:    event.KindTriggerSkipped,
		RunID:   blocking.ID,
		SlotID:  t.SlotID,
		From:    string(blocking.State),
		To:      string(blocking.State),
		Attempt: blocking.AttemptCount,
		Detail:  fmt.Sprintf("trigger fired at %s skipped: %s", t.FireTime.Format(time.RFC3339), reason),
	}); err != nil {
		c.logger.Error("failed to record skipped trigger",
			slog.String("slot_id", t.SlotID),
			slog.String("error", err.Error()),
		)
	}
	c.emitter.EmitTriggerSkipped(ctx, t.SlotID, t.FireTime, blocking.ID)
	return &Result{Run: blocking, Skipped: true, Reason: reason}
}

// ResumeAll executes every non-terminal run from its persisted state and
// returns how many were launched. Runs already executing here, and runs
// leased by another worker, are left alone.
func (c *Coordinator) ResumeAll(ctx context.Context) (int, error) {
	if c.isStopped() {
		return 0, jobpoller.ErrShutdown
	}
	runs, err := c.store.ListRuns(ctx, workflow.ListOpts{ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("coordinator: list active runs: %w", err)
	}

	now := c.machine.Clock().Now()
	owner := c.machine.Owner()
	n := 0
	for _, run := range runs {
		if run.LeasedByOther(owner, now) {
			c.logger.Debug("run leased by another worker",
				slog.String("run_id", run.ID.String()),
				slog.String("owner", run.Owner),
				slog.Time("lease_expires_at", run.LeaseExpiresAt),
			)
			continue
		}
		if c.launch(run) {
			n++
			c.logger.Info("resuming run",
				slog.String("run_id", run.ID.String()),
				slog.String("slot_id", run.SlotID),
				slog.String("state", string(run.State)),
				slog.Int("attempt", run.AttemptCount),
			)
		}
	}
	return n, nil
}

// launch starts executing run unless it is already executing here.
func (c *Coordinator) launch(run *workflow.Run) bool {
	key := run.ID.String()

	c.mu.Lock()
	if _, ok := c.active[key]; ok || c.stopped {
		c.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancelCause(c.baseCtx)
	exec := &execution{cancel: cancel, done: make(chan struct{})}
	c.active[key] = exec
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer close(exec.done)
		defer cancel(nil)
		defer func() {
			c.mu.Lock()
			delete(c.active, key)
			c.mu.Unlock()
		}()
		defer func() {
			if p := recover(); p != nil {
				c.logger.Error("run execution panicked",
					slog.String("run_id", key),
					slog.Any("panic", p),
				)
			}
		}()

		c.execute(ctx, run)
	}()
	return true
}

func (c *Coordinator) execute(ctx context.Context, run *workflow.Run) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for a free slot.
			if errors.Is(context.Cause(ctx), jobpoller.ErrCancelled) {
				if _, cerr := c.machine.Cancel(context.WithoutCancel(ctx), run.ID); cerr != nil {
					c.logger.Error("cancel queued run failed",
						slog.String("run_id", run.ID.String()),
						slog.String("error", cerr.Error()),
					)
				}
			}
			return
		}
		defer c.sem.Release(1)
	}

	err := c.machine.Execute(ctx, run)
	switch {
	case err == nil:
		c.logger.Debug("run execution finished",
			slog.String("run_id", run.ID.String()),
			slog.String("state", string(run.State)),
		)
	case errors.Is(err, jobpoller.ErrShutdown):
	case errors.Is(err, jobpoller.ErrRunLeased), errors.Is(err, jobpoller.ErrVersionConflict):
		c.logger.Info("run owned by another worker",
			slog.String("run_id", run.ID.String()),
			slog.String("slot_id", run.SlotID),
			slog.String("error", err.Error()),
		)
	default:
		c.logger.Error("run execution failed",
			slog.String("run_id", run.ID.String()),
			slog.String("slot_id", run.SlotID),
			slog.String("state", string(run.State)),
			slog.String("error", err.Error()),
		)
	}
}

// Cancel cancels a run. A run executing here is interrupted and Cancel
// waits for it to record the cancellation; any other run is cancelled
// through the store. Cancelling a terminal run returns it unchanged.
func (c *Coordinator) Cancel(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	c.mu.Lock()
	exec, ok := c.active[runID.String()]
	c.mu.Unlock()

	if !ok {
		return c.machine.Cancel(ctx, runID)
	}

	exec.cancel(jobpoller.ErrCancelled)
	select {
	case <-exec.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.State.Terminal() {
		// Stopped before the cancellation landed, e.g. by a shutdown.
		return c.machine.Cancel(ctx, runID)
	}
	return run, nil
}

// Executing reports how many runs are executing in this process.
func (c *Coordinator) Executing() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Wait blocks until every launched execution has returned.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Stop interrupts every execution with jobpoller.ErrShutdown, leaving the
// runs resumable, and waits for them until ctx is done. Later triggers are
// rejected.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	n := len(c.active)
	c.mu.Unlock()

	c.logger.Info("coordinator stopping", slog.Int("executing", n))
	c.baseCancel(jobpoller.ErrShutdown)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("coordinator stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("coordinator shutdown timed out", slog.Int("executing", c.Executing()))
		return ctx.Err()
	}
}

func (c *Coordinator) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
