package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/backoff"
	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/executor/executortest"
	"github.com/xraph/jobpoller/poll"
	"github.com/xraph/jobpoller/store/memory"
	"github.com/xraph/jobpoller/workflow"
	"github.com/xraph/jobpoller/workflow/workflowtest"
)

var t0 = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

// recordingEmitter captures emitter calls.
type recordingEmitter struct {
	mu          sync.Mutex
	transitions []*event.Event
	finished    []*workflow.Run
	pollErrs    []error
	unknown     []string
}

func (e *recordingEmitter) EmitRunTransitioned(_ context.Context, _ *workflow.Run, evt *event.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitions = append(e.transitions, evt)
}

func (e *recordingEmitter) EmitRunFinished(_ context.Context, run *workflow.Run, _ time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, run)
}

func (e *recordingEmitter) EmitPollFailed(_ context.Context, _ *workflow.Run, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pollErrs = append(e.pollErrs, err)
}

func (e *recordingEmitter) EmitUnknownStatus(_ context.Context, _ *workflow.Run, raw string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unknown = append(e.unknown, raw)
}

type harness struct {
	machine *workflow.Machine
	store   *memory.Store
	clock   *workflowtest.Clock
	exec    *executortest.Executor
	emitter *recordingEmitter
}

func newHarness(t *testing.T, exec *executortest.Executor, opts ...workflow.MachineOption) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		clock:   workflowtest.NewClock(t0),
		exec:    exec,
		emitter: &recordingEmitter{},
	}
	base := []workflow.MachineOption{
		workflow.WithClock(h.clock),
		workflow.WithScheduler(poll.NewScheduler(backoff.NewConstant(30 * time.Second))),
		workflow.WithEmitter(h.emitter),
		workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.machine = workflow.NewMachine(h.store, h.store, exec, append(base, opts...)...)
	return h
}

func (h *harness) newRun(t *testing.T, slot string) *workflow.Run {
	t.Helper()
	run := workflow.NewRun(slot, t0, []byte(`{"report":"daily"}`), h.clock.Now(), 5*time.Minute)
	if err := h.store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func (h *harness) stored(t *testing.T, run *workflow.Run) *workflow.Run {
	t.Helper()
	got, err := h.store.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return got
}

func (h *harness) transitions(t *testing.T, run *workflow.Run) []string {
	t.Helper()
	evts, err := h.store.ListEvents(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	var out []string
	for _, e := range evts {
		if e.Kind == event.KindTransition {
			out = append(out, e.From+"→"+e.To)
		}
	}
	return out
}

func (h *harness) eventKinds(t *testing.T, run *workflow.Run) map[event.Kind]int {
	t.Helper()
	evts, _ := h.store.ListEvents(context.Background(), run.ID)
	out := make(map[event.Kind]int)
	for _, e := range evts {
		out[e.Kind]++
	}
	return out
}

func assertSeq(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", got, want)
		}
	}
}

func TestExecute_FirstPollSucceeds(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("SUCCEEDED")...))
	run := h.newRun(t, "nightly")

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.stored(t, run)
	if got.State != workflow.StateSucceeded {
		t.Fatalf("State = %s, want SUCCEEDED", got.State)
	}
	if got.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", got.AttemptCount)
	}
	if got.JobID == "" {
		t.Error("JobID not recorded")
	}
	if got.Cause != workflow.CauseNone || got.Error != "" {
		t.Errorf("Cause/Error = %q/%q, want empty", got.Cause, got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if got.Version != run.Version {
		t.Errorf("stored Version = %d, in-memory %d", got.Version, run.Version)
	}
	assertSeq(t, h.transitions(t, run), []string{
		"CREATED→SUBMITTED", "SUBMITTED→POLLING", "POLLING→SUCCEEDED",
	})
	if len(h.emitter.finished) != 1 {
		t.Errorf("RunFinished emitted %d times, want 1", len(h.emitter.finished))
	}
	if subs := h.exec.Submits(); len(subs) != 1 || string(subs[0]) != `{"report":"daily"}` {
		t.Errorf("Submits = %q", subs)
	}
}

func TestExecute_SubmitFailureIsFatal(t *testing.T) {
	exec := executortest.New(executortest.Statuses("SUCCEEDED")...)
	exec.SetSubmitError(errors.New("quota exceeded"))
	h := newHarness(t, exec)
	run := h.newRun(t, "nightly")

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.stored(t, run)
	if got.State != workflow.StateFailed || got.Cause != workflow.CauseSubmission {
		t.Fatalf("State/Cause = %s/%s, want FAILED/submission", got.State, got.Cause)
	}
	if got.JobID != "" {
		t.Errorf("JobID = %q, want empty", got.JobID)
	}
	if got.Error == "" {
		t.Error("Error detail not recorded")
	}
	if q := h.exec.Queries(); len(q) != 0 {
		t.Errorf("QueryStatus called %d times after a failed submit", len(q))
	}
	assertSeq(t, h.transitions(t, run), []string{"CREATED→FAILED"})
}

func TestExecute_RunningRunningSucceeded(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("RUNNING", "RUNNING", "SUCCEEDED")...))
	run := h.newRun(t, "nightly")

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.stored(t, run)
	if got.State != workflow.StateSucceeded {
		t.Fatalf("State = %s, want SUCCEEDED", got.State)
	}
	if got.AttemptCount != 3 {
		t.Errorf("AttemptCount = %d, want 3", got.AttemptCount)
	}
	if elapsed := got.CompletedAt.Sub(got.StartedAt); elapsed != 90*time.Second {
		t.Errorf("elapsed = %v, want 90s", elapsed)
	}
	assertSeq(t, h.transitions(t, run), []string{
		"CREATED→SUBMITTED", "SUBMITTED→POLLING",
		"POLLING→POLLING", "POLLING→POLLING", "POLLING→SUCCEEDED",
	})
}

func TestExecute_StuckRunningTimesOut(t *testing.T) {
	exec := executortest.New(executortest.Statuses("RUNNING")...)
	h := newHarness(t, exec)
	run := h.newRun(t, "nightly")

	var queryTimes []time.Time
	exec.OnQuery = func(string) { queryTimes = append(queryTimes, h.clock.Now()) }

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.stored(t, run)
	if got.State != workflow.StateTimedOut || got.Cause != workflow.CauseTimeout {
		t.Fatalf("State/Cause = %s/%s, want TIMED_OUT/timeout", got.State, got.Cause)
	}
	if got.CompletedAt.Before(got.Deadline) {
		t.Errorf("timed out at %v, before deadline %v", got.CompletedAt, got.Deadline)
	}
	for i, at := range queryTimes {
		if !at.Before(got.Deadline) {
			t.Errorf("query %d at %v, not before deadline %v", i, at, got.Deadline)
		}
	}
	if len(queryTimes) != 9 || got.AttemptCount != 9 {
		t.Errorf("queries = %d, AttemptCount = %d, want 9 each", len(queryTimes), got.AttemptCount)
	}
	if !h.clock.Now().Equal(got.Deadline) {
		t.Errorf("clock = %v, want exactly the deadline %v", h.clock.Now(), got.Deadline)
	}
}

func TestExecute_JobFailed(t *testing.T) {
	exec := executortest.New(executortest.Response{Status: "FAILED", Payload: []byte(`{"status":"FAILED","reason":"OOM"}`)})
	h := newHarness(t, exec)
	run := h.newRun(t, "nightly")

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.stored(t, run)
	if got.State != workflow.StateFailed || got.Cause != workflow.CauseJobFailed {
		t.Fatalf("State/Cause = %s/%s, want FAILED/job-failed", got.State, got.Cause)
	}
	if string(got.LastStatusPayload) != `{"status":"FAILED","reason":"OOM"}` {
		t.Errorf("LastStatusPayload = %s", got.LastStatusPayload)
	}
	if got.LastStatus != "FAILED" {
		t.Errorf("LastStatus = %q", got.LastStatus)
	}
}

func TestExecute_QueryErrorIsRetried(t *testing.T) {
	exec := executortest.New(
		executortest.Response{Err: errors.New("connection refused")},
		executortest.Response{Status: "SUCCEEDED"},
	)
	h := newHarness(t, exec)
	run := h.newRun(t, "nightly")

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.stored(t, run)
	if got.State != workflow.StateSucceeded {
		t.Fatalf("State = %s, want SUCCEEDED", got.State)
	}
	if got.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", got.AttemptCount)
	}
	if n := h.eventKinds(t, run)[event.KindQueryFailed]; n != 1 {
		t.Errorf("query_failed events = %d, want 1", n)
	}
	if len(h.emitter.pollErrs) != 1 {
		t.Errorf("PollFailed emitted %d times, want 1", len(h.emitter.pollErrs))
	}
}

func TestExecute_UnknownStatusIsRetriedAndReported(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("THAWING", "SUCCEEDED")...))
	run := h.newRun(t, "nightly")

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.stored(t, run)
	if got.State != workflow.StateSucceeded {
		t.Fatalf("State = %s, want SUCCEEDED", got.State)
	}
	if n := h.eventKinds(t, run)[event.KindUnknownStatus]; n != 1 {
		t.Errorf("unknown_status events = %d, want 1", n)
	}
	if len(h.emitter.unknown) != 1 || h.emitter.unknown[0] != "THAWING" {
		t.Errorf("UnknownStatus emitted %v", h.emitter.unknown)
	}
}

func TestExecute_ResumesPollingRunWithoutResubmitting(t *testing.T) {
	exec := executortest.New()
	exec.AddJob("job-42", executortest.Statuses("SUCCEEDED")...)
	h := newHarness(t, exec)
	ctx := context.Background()

	run := h.newRun(t, "nightly")
	run.State = workflow.StatePolling
	run.JobID = "job-42"
	run.AttemptCount = 3
	if err := h.store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	// A fresh copy, as a restarted process would load it.
	reloaded := h.stored(t, run)
	if err := h.machine.Execute(ctx, reloaded); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if subs := exec.Submits(); len(subs) != 0 {
		t.Errorf("Submit called %d times on resume", len(subs))
	}
	got := h.stored(t, run)
	if got.State != workflow.StateSucceeded {
		t.Fatalf("State = %s, want SUCCEEDED", got.State)
	}
	if got.AttemptCount != 4 {
		t.Errorf("AttemptCount = %d, want 4", got.AttemptCount)
	}
}

func TestExecute_DeadlinePassedBeforeSubmit(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("SUCCEEDED")...))
	run := h.newRun(t, "nightly")
	h.clock.Advance(6 * time.Minute)

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := h.stored(t, run); got.State != workflow.StateTimedOut {
		t.Fatalf("State = %s, want TIMED_OUT", got.State)
	}
	if len(h.exec.Submits()) != 0 {
		t.Error("Submit called after the deadline")
	}
}

func TestExecute_CancelDuringWait(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("RUNNING")...))
	run := h.newRun(t, "nightly")

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	h.clock.BeforeSleep = func(context.Context, time.Duration) { cancel(jobpoller.ErrCancelled) }

	if err := h.machine.Execute(ctx, run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.stored(t, run)
	if got.State != workflow.StateCancelled || got.Cause != workflow.CauseCancelled {
		t.Fatalf("State/Cause = %s/%s, want CANCELLED/cancelled", got.State, got.Cause)
	}
	if len(h.exec.Queries()) != 0 {
		t.Error("executor queried after cancellation")
	}
}

func TestExecute_ShutdownLeavesRunResumable(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("RUNNING")...))
	run := h.newRun(t, "nightly")

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	h.clock.BeforeSleep = func(context.Context, time.Duration) { cancel(jobpoller.ErrShutdown) }

	err := h.machine.Execute(ctx, run)
	if !errors.Is(err, jobpoller.ErrShutdown) {
		t.Fatalf("Execute = %v, want ErrShutdown", err)
	}
	got := h.stored(t, run)
	if got.State != workflow.StatePolling {
		t.Fatalf("State = %s, want POLLING", got.State)
	}
	if got.Owner != "" || !got.LeaseExpiresAt.IsZero() {
		t.Errorf("lease = %q until %v, want released", got.Owner, got.LeaseExpiresAt)
	}
}

func TestExecute_VersionConflictStops(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("SUCCEEDED")...))
	run := h.newRun(t, "nightly")
	ctx := context.Background()

	other := h.stored(t, run)
	other.Error = "touched elsewhere"
	if err := h.store.UpdateRun(ctx, other); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	err := h.machine.Execute(ctx, run)
	if !errors.Is(err, jobpoller.ErrVersionConflict) {
		t.Fatalf("Execute = %v, want ErrVersionConflict", err)
	}
	if got := h.stored(t, run); got.State != workflow.StateCreated {
		t.Errorf("State = %s, want CREATED", got.State)
	}
}

func TestExecute_FetchFinalStatus(t *testing.T) {
	exec := executortest.New(
		executortest.Response{Status: "SUCCEEDED", Payload: []byte(`{"status":"SUCCEEDED"}`)},
		executortest.Response{Status: "SUCCEEDED", Payload: []byte(`{"status":"SUCCEEDED","rows":1200}`)},
	)
	h := newHarness(t, exec, workflow.WithFetchFinalStatus(true))
	run := h.newRun(t, "nightly")

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.stored(t, run)
	if string(got.LastStatusPayload) != `{"status":"SUCCEEDED","rows":1200}` {
		t.Errorf("LastStatusPayload = %s", got.LastStatusPayload)
	}
	if got.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1 (final fetch is not a poll)", got.AttemptCount)
	}
	if n := len(exec.Queries()); n != 2 {
		t.Errorf("queries = %d, want 2", n)
	}
}

func TestMachineCancel_Idempotent(t *testing.T) {
	h := newHarness(t, executortest.New())
	run := h.newRun(t, "nightly")
	ctx := context.Background()

	got, err := h.machine.Cancel(ctx, run.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.State != workflow.StateCancelled {
		t.Fatalf("State = %s, want CANCELLED", got.State)
	}

	again, err := h.machine.Cancel(ctx, run.ID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if again.State != workflow.StateCancelled || again.Version != got.Version {
		t.Errorf("second Cancel changed the run: %s v%d", again.State, again.Version)
	}
	assertSeq(t, h.transitions(t, run), []string{"CREATED→CANCELLED"})

	// A terminal run cannot be resumed into polling.
	again.State = workflow.StatePolling
	if err := h.store.UpdateRun(ctx, again); !errors.Is(err, jobpoller.ErrRunTerminal) {
		t.Fatalf("UpdateRun on cancelled run = %v, want ErrRunTerminal", err)
	}
}

func TestMachineCancel_NotFound(t *testing.T) {
	h := newHarness(t, executortest.New())
	if _, err := h.machine.Cancel(context.Background(), workflow.NewRun("x", t0, nil, t0, time.Minute).ID); !errors.Is(err, jobpoller.ErrRunNotFound) {
		t.Fatalf("Cancel = %v, want ErrRunNotFound", err)
	}
}

func TestExecute_ConcurrentMachinesSubmitOnce(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("SUCCEEDED")...), workflow.WithOwner("worker-a"))
	other := workflow.NewMachine(h.store, h.store, h.exec,
		workflow.WithClock(h.clock),
		workflow.WithScheduler(poll.NewScheduler(backoff.NewConstant(30*time.Second))),
		workflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		workflow.WithOwner("worker-b"),
	)
	run := h.newRun(t, "nightly")

	// Both workers loaded the same CREATED version.
	copies := []*workflow.Run{h.stored(t, run), h.stored(t, run)}
	machines := []*workflow.Machine{h.machine, other}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range machines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = machines[i].Execute(context.Background(), copies[i])
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && !errors.Is(err, jobpoller.ErrVersionConflict) {
			t.Errorf("machine %d: Execute = %v", i, err)
		}
	}
	if n := len(h.exec.Submits()); n != 1 {
		t.Fatalf("Submit called %d times, want 1", n)
	}
	if got := h.stored(t, run); got.State != workflow.StateSucceeded {
		t.Fatalf("State = %s, want SUCCEEDED", got.State)
	}
}

func TestExecute_LeasedRunIsLeftAlone(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("SUCCEEDED")...), workflow.WithOwner("worker-a"))
	run := h.newRun(t, "nightly")
	run.Owner = "worker-b"
	run.LeaseExpiresAt = t0.Add(time.Minute)
	if err := h.store.UpdateRun(context.Background(), run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	err := h.machine.Execute(context.Background(), h.stored(t, run))
	if !errors.Is(err, jobpoller.ErrRunLeased) {
		t.Fatalf("Execute = %v, want ErrRunLeased", err)
	}
	if n := len(h.exec.Submits()); n != 0 {
		t.Fatalf("Submit called %d times on a leased run", n)
	}

	h.clock.Advance(61 * time.Second)
	if err = h.machine.Execute(context.Background(), h.stored(t, run)); err != nil {
		t.Fatalf("Execute after the lease lapsed: %v", err)
	}
	got := h.stored(t, run)
	if got.State != workflow.StateSucceeded || got.Owner != "worker-a" {
		t.Fatalf("run = %s owned by %q, want SUCCEEDED owned by worker-a", got.State, got.Owner)
	}
}

func TestExecute_ClaimCoversTheWait(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("RUNNING", "SUCCEEDED")...),
		workflow.WithOwner("worker-a"), workflow.WithLeaseTTL(45*time.Second))
	run := h.newRun(t, "nightly")

	var leases []time.Time
	h.clock.BeforeSleep = func(context.Context, time.Duration) {
		leases = append(leases, h.stored(t, run).LeaseExpiresAt)
	}
	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Each lease runs from the claim through the 30s wait plus the TTL.
	want := []time.Time{t0.Add(75 * time.Second), t0.Add(105 * time.Second)}
	if len(leases) != len(want) {
		t.Fatalf("leases = %v, want %v", leases, want)
	}
	for i := range want {
		if !leases[i].Equal(want[i]) {
			t.Errorf("lease %d = %v, want %v", i, leases[i], want[i])
		}
	}
}

func TestExecute_CancelledElsewhereIsNotQueried(t *testing.T) {
	h := newHarness(t, executortest.New(executortest.Statuses("RUNNING")...))
	other := workflow.NewMachine(h.store, h.store, h.exec, workflow.WithClock(h.clock))
	run := h.newRun(t, "nightly")

	var once sync.Once
	h.clock.BeforeSleep = func(context.Context, time.Duration) {
		once.Do(func() {
			if _, err := other.Cancel(context.Background(), run.ID); err != nil {
				t.Errorf("Cancel: %v", err)
			}
		})
	}

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.State != workflow.StateCancelled {
		t.Errorf("in-memory State = %s, want CANCELLED", run.State)
	}
	if q := h.exec.Queries(); len(q) != 0 {
		t.Fatalf("executor queried %d times after the run was cancelled", len(q))
	}
	assertSeq(t, h.transitions(t, run), []string{
		"CREATED→SUBMITTED", "SUBMITTED→POLLING", "POLLING→CANCELLED",
	})
}

func TestExecute_QueryCutOffAtDeadline(t *testing.T) {
	exec := executortest.New(executortest.Statuses("RUNNING")...)
	h := newHarness(t, exec)
	run := workflow.NewRun("nightly", t0, nil, h.clock.Now(), 30*time.Second+20*time.Millisecond)
	if err := h.store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	// The first poll starts 20ms before the deadline and hangs past it.
	exec.OnQuery = func(string) { time.Sleep(200 * time.Millisecond) }

	if err := h.machine.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.stored(t, run)
	if got.State != workflow.StateTimedOut || got.Cause != workflow.CauseTimeout {
		t.Fatalf("State/Cause = %s/%s, want TIMED_OUT/timeout", got.State, got.Cause)
	}
	if got.AttemptCount != 1 || got.LastStatus != "" {
		t.Errorf("AttemptCount/LastStatus = %d/%q, want 1 and no status", got.AttemptCount, got.LastStatus)
	}
	assertSeq(t, h.transitions(t, run), []string{
		"CREATED→SUBMITTED", "SUBMITTED→POLLING", "POLLING→TIMED_OUT",
	})
}
