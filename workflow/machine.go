package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/executor"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/middleware"
	"github.com/xraph/jobpoller/poll"
	"github.com/xraph/jobpoller/status"
)

// Emitter receives run lifecycle notifications from the Machine.
// ext.Registry satisfies it.
type Emitter interface {
	EmitRunTransitioned(ctx context.Context, run *Run, evt *event.Event)
	EmitRunFinished(ctx context.Context, run *Run, elapsed time.Duration)
	EmitPollFailed(ctx context.Context, run *Run, err error)
	EmitUnknownStatus(ctx context.Context, run *Run, raw string)
}

type nopEmitter struct{}

func (nopEmitter) EmitRunTransitioned(context.Context, *Run, *event.Event) {}
func (nopEmitter) EmitRunFinished(context.Context, *Run, time.Duration)    {}
func (nopEmitter) EmitPollFailed(context.Context, *Run, error)             {}
func (nopEmitter) EmitUnknownStatus(context.Context, *Run, string)         {}

// errDeadlineReached cancels a status query still in flight at the run's
// deadline.
var errDeadlineReached = errors.New("workflow: run deadline reached")

// Machine drives runs through their states. It is the only writer of a
// run's State, JobID and AttemptCount. A Machine is safe for concurrent
// use; each run is executed by exactly one goroutine.
//
// Before every executor call the machine claims the run for its owner with
// a compare-and-swap write, so two workers sharing a store never submit or
// poll the same run.
type Machine struct {
	store      Store
	events     *event.Log
	client     executor.Client
	classifier *status.Classifier
	scheduler  *poll.Scheduler
	mw         middleware.Middleware
	emitter    Emitter
	clock      Clock
	logger     *slog.Logger
	fetchFinal bool
	owner      string
	lease      time.Duration
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithClassifier sets the status classifier. Defaults to status.Default().
func WithClassifier(c *status.Classifier) MachineOption {
	return func(m *Machine) { m.classifier = c }
}

// WithScheduler sets the poll scheduler. Defaults to a constant 30s policy.
func WithScheduler(s *poll.Scheduler) MachineOption {
	return func(m *Machine) { m.scheduler = s }
}

// WithMiddleware wraps every executor call.
func WithMiddleware(mw middleware.Middleware) MachineOption {
	return func(m *Machine) { m.mw = mw }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) MachineOption {
	return func(m *Machine) { m.emitter = e }
}

// WithClock replaces the real clock.
func WithClock(c Clock) MachineOption {
	return func(m *Machine) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MachineOption {
	return func(m *Machine) { m.logger = l }
}

// WithFetchFinalStatus makes the machine query the executor once more
// after a success and record that payload.
func WithFetchFinalStatus(enabled bool) MachineOption {
	return func(m *Machine) { m.fetchFinal = enabled }
}

// WithOwner names the worker claiming runs executed by this machine.
// Defaults to a fresh worker id.
func WithOwner(owner string) MachineOption {
	return func(m *Machine) { m.owner = owner }
}

// WithLeaseTTL sets how long a claim outlives the executor call it
// covers. Defaults to one minute.
func WithLeaseTTL(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.lease = d
		}
	}
}

// NewMachine creates a Machine persisting runs in store and their events
// in events.
func NewMachine(store Store, events event.Store, client executor.Client, opts ...MachineOption) *Machine {
	m := &Machine{
		store:      store,
		client:     client,
		classifier: status.Default(),
		scheduler:  poll.NewScheduler(nil),
		mw:         middleware.Chain(),
		emitter:    nopEmitter{},
		clock:      RealClock(),
		logger:     slog.Default(),
		owner:      id.NewWorkerID().String(),
		lease:      time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = event.NewLog(events, m.clock.Now)
	return m
}

// Clock returns the machine's clock.
func (m *Machine) Clock() Clock { return m.clock }

// Owner returns the worker name written into claimed runs.
func (m *Machine) Owner() string { return m.owner }

// Execute drives run until it is terminal or ctx is cancelled.
//
// A context cancelled with cause jobpoller.ErrCancelled ends the run as
// CANCELLED and Execute returns nil. Any other cancellation stops without
// a transition, leaving the run resumable, and Execute returns the cause.
// A version conflict or a lease held by another worker means another
// writer owns the run; Execute stops and returns that error. A run that
// ended elsewhere, e.g. cancelled through the store, is reloaded and
// Execute returns nil without calling the executor again.
func (m *Machine) Execute(ctx context.Context, run *Run) error {
	for !run.State.Terminal() {
		if err := m.step(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

// step performs exactly one transition (or one non-transitioning poll).
func (m *Machine) step(ctx context.Context, run *Run) error {
	if ctx.Err() != nil {
		return m.interrupt(ctx, run)
	}
	if m.pastDeadline(run) {
		return m.timeout(ctx, run)
	}

	switch run.State {
	case StateCreated:
		return m.stepCreated(ctx, run)
	case StateSubmitted:
		return m.stepSubmitted(ctx, run)
	case StatePolling:
		return m.stepPolling(ctx, run)
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return nil
	default:
		return fmt.Errorf("%w: unknown state %q", jobpoller.ErrInvalidState, run.State)
	}
}

// stepCreated submits the job. Submission errors are fatal for the run.
func (m *Machine) stepCreated(ctx context.Context, run *Run) error {
	if err := m.claim(ctx, run, 0); err != nil {
		return m.lostClaim(ctx, run, err)
	}

	var jobID string
	call := &middleware.Call{Op: middleware.OpSubmit, RunID: run.ID, SlotID: run.SlotID}
	err := m.mw(ctx, call, func(ctx context.Context) error {
		var err error
		jobID, err = m.client.Submit(ctx, run.Parameters)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return m.interrupt(ctx, run)
		}
		return m.transition(ctx, run, StateFailed, CauseSubmission, err.Error())
	}
	if jobID == "" {
		return m.transition(ctx, run, StateFailed, CauseSubmission, "executor returned an empty job id")
	}

	run.JobID = jobID
	return m.transition(ctx, run, StateSubmitted, CauseNone, "")
}

func (m *Machine) stepSubmitted(ctx context.Context, run *Run) error {
	return m.transition(ctx, run, StatePolling, CauseNone, "")
}

// stepPolling waits for the next poll, queries the job and classifies the
// answer.
func (m *Machine) stepPolling(ctx context.Context, run *Run) error {
	wait := m.scheduler.Wait(run.AttemptCount, m.clock.Now(), run.Deadline)
	if err := m.claim(ctx, run, wait); err != nil {
		return m.lostClaim(ctx, run, err)
	}
	if err := m.clock.Sleep(ctx, wait); err != nil {
		return m.interrupt(ctx, run)
	}
	if m.pastDeadline(run) {
		return m.timeout(ctx, run)
	}
	if err := m.refresh(ctx, run); err != nil {
		return m.lostClaim(ctx, run, err)
	}

	attempt := run.AttemptCount + 1
	raw, err := m.query(ctx, run, attempt)
	if err != nil && ctx.Err() != nil {
		return m.interrupt(ctx, run)
	}
	run.AttemptCount = attempt
	if errors.Is(err, errDeadlineReached) {
		return m.timeout(ctx, run)
	}

	if err != nil {
		return m.recordPollProblem(ctx, run, event.KindQueryFailed, err, "")
	}

	run.LastStatus = raw.Value
	run.LastStatusPayload = raw.Payload

	phase, err := m.classifier.Classify(raw.Value)
	if err != nil {
		return m.recordPollProblem(ctx, run, event.KindUnknownStatus, err, raw.Value)
	}

	switch phase {
	case status.Running:
		run.Error = ""
		return m.transition(ctx, run, StatePolling, CauseNone, "")
	case status.Succeeded:
		if m.fetchFinal {
			m.fetchFinalStatus(ctx, run)
		}
		return m.transition(ctx, run, StateSucceeded, CauseNone, "")
	case status.Failed:
		return m.transition(ctx, run, StateFailed, CauseJobFailed, "job reported status "+raw.Value)
	default:
		return fmt.Errorf("%w: unhandled phase %s", jobpoller.ErrInvalidState, phase)
	}
}

// query asks the executor for the job's status. The call is cut off at the
// run's deadline and then fails with errDeadlineReached.
func (m *Machine) query(ctx context.Context, run *Run, attempt int) (executor.RawStatus, error) {
	qctx, cancel := context.WithTimeoutCause(ctx, run.Deadline.Sub(m.clock.Now()), errDeadlineReached)
	defer cancel()

	var raw executor.RawStatus
	call := &middleware.Call{
		Op:      middleware.OpQueryStatus,
		RunID:   run.ID,
		SlotID:  run.SlotID,
		JobID:   run.JobID,
		Attempt: attempt,
	}
	err := m.mw(qctx, call, func(ctx context.Context) error {
		var err error
		raw, err = m.client.QueryStatus(ctx, run.JobID)
		return err
	})
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(qctx), errDeadlineReached) {
		return executor.RawStatus{}, errDeadlineReached
	}
	return raw, err
}

// claim records this machine's owner on run with a lease covering hold
// plus the lease TTL. The write is a compare-and-swap, so of two workers
// holding the same version only one wins.
func (m *Machine) claim(ctx context.Context, run *Run, hold time.Duration) error {
	now := m.clock.Now().UTC()
	if run.LeasedByOther(m.owner, now) {
		return fmt.Errorf("workflow: run %s held by %s until %s: %w",
			run.ID, run.Owner, run.LeaseExpiresAt.Format(time.RFC3339), jobpoller.ErrRunLeased)
	}
	owner, expires := run.Owner, run.LeaseExpiresAt
	run.Owner = m.owner
	run.LeaseExpiresAt = now.Add(hold + m.lease)
	if err := m.save(ctx, run); err != nil {
		run.Owner, run.LeaseExpiresAt = owner, expires
		return err
	}
	return nil
}

// refresh checks the stored run before a status query. It fails with
// jobpoller.ErrRunTerminal if the run ended elsewhere and with
// jobpoller.ErrVersionConflict if another writer changed it.
func (m *Machine) refresh(ctx context.Context, run *Run) error {
	stored, err := m.store.GetRun(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		return fmt.Errorf("workflow: reload run %s: %w", run.ID, err)
	}
	switch {
	case stored.State.Terminal():
		return fmt.Errorf("workflow: run %s is %s: %w", run.ID, stored.State, jobpoller.ErrRunTerminal)
	case stored.Version != run.Version:
		return fmt.Errorf("workflow: run %s: %w", run.ID, jobpoller.ErrVersionConflict)
	}
	return nil
}

// lostClaim handles err from claim or refresh. A run that reached a
// terminal state elsewhere replaces run and ends execution cleanly.
func (m *Machine) lostClaim(ctx context.Context, run *Run, err error) error {
	if !errors.Is(err, jobpoller.ErrRunTerminal) {
		return err
	}
	stored, getErr := m.store.GetRun(context.WithoutCancel(ctx), run.ID)
	if getErr != nil || !stored.State.Terminal() {
		return err
	}
	*run = *stored
	m.logger.Info("run ended elsewhere",
		slog.String("run_id", run.ID.String()),
		slog.String("state", string(run.State)),
		slog.String("cause", string(run.Cause)),
	)
	return nil
}

// release drops this machine's claim so that another worker can resume
// the run without waiting for the lease to lapse.
func (m *Machine) release(ctx context.Context, run *Run) {
	if run.Owner != m.owner {
		return
	}
	run.Owner = ""
	run.LeaseExpiresAt = time.Time{}
	if err := m.save(ctx, run); err != nil {
		m.logger.Warn("failed to release run lease",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// fetchFinalStatus re-queries a succeeded job for its final payload. A
// failure keeps the payload of the classifying poll.
func (m *Machine) fetchFinalStatus(ctx context.Context, run *Run) {
	raw, err := m.query(ctx, run, run.AttemptCount)
	if err != nil {
		m.logger.Warn("final status fetch failed",
			slog.String("run_id", run.ID.String()),
			slog.String("job_id", run.JobID),
			slog.String("error", err.Error()),
		)
		return
	}
	run.LastStatus = raw.Value
	run.LastStatusPayload = raw.Payload
}

// recordPollProblem persists a failed or unclassifiable poll without a
// state change. The run keeps polling until the deadline.
func (m *Machine) recordPollProblem(ctx context.Context, run *Run, kind event.Kind, pollErr error, raw string) error {
	run.Error = pollErr.Error()
	if err := m.save(ctx, run); err != nil {
		return err
	}

	attrs := []any{
		slog.String("run_id", run.ID.String()),
		slog.String("slot_id", run.SlotID),
		slog.String("job_id", run.JobID),
		slog.Int("attempt", run.AttemptCount),
		slog.String("error", pollErr.Error()),
	}
	if kind == event.KindUnknownStatus {
		m.logger.Error("unknown job status", append(attrs, slog.String("status", raw))...)
	} else {
		m.logger.Warn("status query failed", attrs...)
	}

	m.appendEvent(ctx, &event.Event{
		Kind:    kind,
		RunID:   run.ID,
		SlotID:  run.SlotID,
		From:    string(run.State),
		To:      string(run.State),
		Attempt: run.AttemptCount,
		Detail:  pollErr.Error(),
	})

	snapshot := run.Clone()
	if kind == event.KindUnknownStatus {
		m.emitter.EmitUnknownStatus(ctx, snapshot, raw)
	} else {
		m.emitter.EmitPollFailed(ctx, snapshot, pollErr)
	}
	return nil
}

func (m *Machine) pastDeadline(run *Run) bool {
	return !m.clock.Now().Before(run.Deadline)
}

func (m *Machine) timeout(ctx context.Context, run *Run) error {
	detail := fmt.Sprintf("deadline %s exceeded after %d polls", run.Deadline.Format(time.RFC3339), run.AttemptCount)
	return m.transition(ctx, run, StateTimedOut, CauseTimeout, detail)
}

// interrupt handles a cancelled execution context.
func (m *Machine) interrupt(ctx context.Context, run *Run) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, jobpoller.ErrCancelled) {
		return m.transition(ctx, run, StateCancelled, CauseCancelled, "cancelled by request")
	}
	m.release(ctx, run)
	m.logger.Info("run execution stopped",
		slog.String("run_id", run.ID.String()),
		slog.String("state", string(run.State)),
		slog.Int("attempt", run.AttemptCount),
		slog.Any("cause", cause),
	)
	return cause
}

// transition moves run to state `to`, persists it with compare-and-swap,
// then records and emits the transition. Persistence is not bound to the
// execution context so that a cancellation is still recorded.
func (m *Machine) transition(ctx context.Context, run *Run, to State, cause Cause, detail string) error {
	from := run.State
	if from.Terminal() {
		return fmt.Errorf("%w: %s → %s", jobpoller.ErrRunTerminal, from, to)
	}

	now := m.clock.Now().UTC()
	run.State = to
	run.Cause = cause
	if to.Terminal() {
		run.Error = detail
		run.CompletedAt = &now
	}
	if err := m.save(ctx, run); err != nil {
		return err
	}

	m.logger.Info("run transitioned",
		slog.String("run_id", run.ID.String()),
		slog.String("slot_id", run.SlotID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("cause", string(cause)),
		slog.Int("attempt", run.AttemptCount),
	)

	evt := m.appendEvent(ctx, &event.Event{
		Kind:      event.KindTransition,
		RunID:     run.ID,
		SlotID:    run.SlotID,
		From:      string(from),
		To:        string(to),
		Cause:     string(cause),
		Attempt:   run.AttemptCount,
		Detail:    firstNonEmpty(detail, run.LastStatus),
		Timestamp: now,
	})

	snapshot := run.Clone()
	m.emitter.EmitRunTransitioned(ctx, snapshot, evt)
	if to.Terminal() {
		m.emitter.EmitRunFinished(ctx, snapshot, now.Sub(run.StartedAt))
	}
	return nil
}

// save writes run with compare-and-swap on its version.
func (m *Machine) save(ctx context.Context, run *Run) error {
	run.UpdatedAt = m.clock.Now().UTC()
	if err := m.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("workflow: persist run %s: %w", run.ID, err)
	}
	return nil
}

// appendEvent records evt. The run record is authoritative, so a failed
// append is logged and does not stop the run.
func (m *Machine) appendEvent(ctx context.Context, evt *event.Event) *event.Event {
	if _, err := m.events.Append(context.WithoutCancel(ctx), evt); err != nil {
		m.logger.Error("failed to append run event",
			slog.String("run_id", evt.RunID.String()),
			slog.String("kind", string(evt.Kind)),
			slog.String("error", err.Error()),
		)
	}
	return evt
}

// Cancel ends a run that is not executing in this process. Cancelling a
// terminal run is a no-op that returns the run unchanged. A process
// executing the run notices before its next executor call and stops.
func (m *Machine) Cancel(ctx context.Context, runID id.RunID) (*Run, error) {
	const attempts = 3
	var lastErr error
	for range attempts {
		run, err := m.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.State.Terminal() {
			return run, nil
		}
		err = m.transition(ctx, run, StateCancelled, CauseCancelled, "cancelled by request")
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, jobpoller.ErrVersionConflict) && !errors.Is(err, jobpoller.ErrRunTerminal) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("workflow: cancel run %s: %w", runID, lastErr)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
