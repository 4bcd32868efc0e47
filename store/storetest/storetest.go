// Package storetest holds a conformance suite that every store.Store
// backend runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/cron"
	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/store"
	"github.com/xraph/jobpoller/workflow"
)

// Factory returns an empty, migrated store. It registers its own cleanup.
type Factory func(t *testing.T) store.Store

// T0 is the creation time used for runs in the suite. It has no sub-second
// part so that it survives every backend's timestamp precision.
var T0 = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

// Run runs the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateRun_OneActivePerSlot", testOneActivePerSlot},
		{"UpdateRun_CompareAndSwap", testCompareAndSwap},
		{"UpdateRun_RejectsTerminal", testRejectsTerminal},
		{"UpdateRun_NotFound", testUpdateNotFound},
		{"GetRun_RoundTrip", testRoundTrip},
		{"GetLatestRun", testLatestRun},
		{"ListRuns_Filters", testListRuns},
		{"Events_AppendOrder", testEvents},
		{"Cron_RegisterDuplicateName", testCronDuplicate},
		{"Cron_Lock", testCronLock},
		{"Cron_UpdateKeepsLock", testCronUpdate},
		{"Cron_Delete", testCronDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func newRun(slot string) *workflow.Run {
	return workflow.NewRun(slot, T0, []byte(`{"report":"daily"}`), T0, 5*time.Minute)
}

func mustCreate(t *testing.T, s store.Store, slot string) *workflow.Run {
	t.Helper()
	r := newRun(slot)
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun(%s): %v", slot, err)
	}
	return r
}

func finish(t *testing.T, s store.Store, r *workflow.Run, state workflow.State) {
	t.Helper()
	r.State = state
	done := T0.Add(time.Minute)
	r.CompletedAt = &done
	if err := s.UpdateRun(context.Background(), r); err != nil {
		t.Fatalf("UpdateRun(%s): %v", state, err)
	}
}

func testOneActivePerSlot(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := mustCreate(t, s, "nightly")
	if first.Version != 1 {
		t.Errorf("Version = %d, want 1", first.Version)
	}
	if err := s.CreateRun(ctx, newRun("nightly")); !errors.Is(err, jobpoller.ErrSlotActive) {
		t.Fatalf("second CreateRun = %v, want ErrSlotActive", err)
	}
	mustCreate(t, s, "hourly")

	active, err := s.GetActiveRun(ctx, "nightly")
	if err != nil {
		t.Fatalf("GetActiveRun: %v", err)
	}
	if active.ID != first.ID {
		t.Errorf("active run = %s, want %s", active.ID, first.ID)
	}

	finish(t, s, first, workflow.StateSucceeded)
	if _, err := s.GetActiveRun(ctx, "nightly"); !errors.Is(err, jobpoller.ErrRunNotFound) {
		t.Fatalf("GetActiveRun after finish = %v, want ErrRunNotFound", err)
	}
	mustCreate(t, s, "nightly")
}

func testCompareAndSwap(t *testing.T, s store.Store) {
	ctx := context.Background()
	r := mustCreate(t, s, "slot")
	stale := r.Clone()

	r.State = workflow.StateSubmitted
	r.JobID = "job-1"
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if r.Version != 2 {
		t.Errorf("Version after update = %d, want 2", r.Version)
	}

	stale.State = workflow.StateCancelled
	if err := s.UpdateRun(ctx, stale); !errors.Is(err, jobpoller.ErrVersionConflict) {
		t.Fatalf("stale UpdateRun = %v, want ErrVersionConflict", err)
	}
	if stale.Version != 1 {
		t.Errorf("stale Version = %d, want unchanged 1", stale.Version)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != workflow.StateSubmitted || got.JobID != "job-1" || got.Version != 2 {
		t.Errorf("stored run = %s/%s/v%d, want SUBMITTED/job-1/v2", got.State, got.JobID, got.Version)
	}
}

func testRejectsTerminal(t *testing.T, s store.Store) {
	r := mustCreate(t, s, "slot")
	finish(t, s, r, workflow.StateTimedOut)

	r.State = workflow.StatePolling
	if err := s.UpdateRun(context.Background(), r); !errors.Is(err, jobpoller.ErrRunTerminal) {
		t.Fatalf("UpdateRun on terminal = %v, want ErrRunTerminal", err)
	}
}

func testUpdateNotFound(t *testing.T, s store.Store) {
	r := newRun("ghost")
	r.Version = 1
	if err := s.UpdateRun(context.Background(), r); !errors.Is(err, jobpoller.ErrRunNotFound) {
		t.Fatalf("UpdateRun(missing) = %v, want ErrRunNotFound", err)
	}
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, jobpoller.ErrRunNotFound) {
		t.Fatalf("GetRun(missing) = %v, want ErrRunNotFound", err)
	}

	r := mustCreate(t, s, "nightly")
	r.State = workflow.StatePolling
	r.JobID = "job-42"
	r.AttemptCount = 3
	r.LastStatus = "RUNNING"
	r.LastStatusPayload = []byte(`{"progress":40}`)
	r.Owner = "worker-a"
	r.LeaseExpiresAt = T0.Add(90 * time.Second)
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	switch {
	case got.SlotID != "nightly":
		t.Errorf("SlotID = %q", got.SlotID)
	case !got.ScheduledAt.Equal(T0):
		t.Errorf("ScheduledAt = %v, want %v", got.ScheduledAt, T0)
	case !got.Deadline.Equal(T0.Add(5 * time.Minute)):
		t.Errorf("Deadline = %v", got.Deadline)
	case string(got.Parameters) != `{"report":"daily"}`:
		t.Errorf("Parameters = %s", got.Parameters)
	case got.AttemptCount != 3 || got.LastStatus != "RUNNING":
		t.Errorf("poll state = %d/%s", got.AttemptCount, got.LastStatus)
	case string(got.LastStatusPayload) != `{"progress":40}`:
		t.Errorf("LastStatusPayload = %s", got.LastStatusPayload)
	case got.CompletedAt != nil:
		t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
	case got.Owner != "worker-a" || !got.LeaseExpiresAt.Equal(T0.Add(90*time.Second)):
		t.Errorf("lease = %q until %v", got.Owner, got.LeaseExpiresAt)
	}

	// Releasing clears the lease.
	got.Owner = ""
	got.LeaseExpiresAt = time.Time{}
	if err := s.UpdateRun(ctx, got); err != nil {
		t.Fatalf("UpdateRun(release): %v", err)
	}
	released, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if released.Owner != "" || !released.LeaseExpiresAt.IsZero() {
		t.Errorf("released lease = %q until %v", released.Owner, released.LeaseExpiresAt)
	}
}

func testLatestRun(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetLatestRun(ctx, "nightly"); !errors.Is(err, jobpoller.ErrRunNotFound) {
		t.Fatalf("GetLatestRun(empty) = %v, want ErrRunNotFound", err)
	}
	first := mustCreate(t, s, "nightly")
	finish(t, s, first, workflow.StateFailed)
	second := mustCreate(t, s, "nightly")

	got, err := s.GetLatestRun(ctx, "nightly")
	if err != nil {
		t.Fatalf("GetLatestRun: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("latest = %s, want %s", got.ID, second.ID)
	}
}

func testListRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustCreate(t, s, "a")
	finish(t, s, a, workflow.StateSucceeded)
	b := mustCreate(t, s, "b")
	b.State = workflow.StatePolling
	if err := s.UpdateRun(ctx, b); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	c := mustCreate(t, s, "c")

	tests := []struct {
		name string
		opts workflow.ListOpts
		want []id.RunID
	}{
		{"all newest first", workflow.ListOpts{}, []id.RunID{c.ID, b.ID, a.ID}},
		{"active only", workflow.ListOpts{ActiveOnly: true}, []id.RunID{c.ID, b.ID}},
		{"by state", workflow.ListOpts{State: workflow.StatePolling}, []id.RunID{b.ID}},
		{"by slot", workflow.ListOpts{SlotID: "a"}, []id.RunID{a.ID}},
		{"limit", workflow.ListOpts{Limit: 2}, []id.RunID{c.ID, b.ID}},
		{"offset", workflow.ListOpts{Offset: 1, Limit: 1}, []id.RunID{b.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("got %d runs, want %d", len(runs), len(tt.want))
			}
			for i, r := range runs {
				if r.ID != tt.want[i] {
					t.Errorf("runs[%d] = %s (%s), want %s", i, r.ID, r.SlotID, tt.want[i])
				}
			}
		})
	}
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	runID := id.NewRunID()
	other := id.NewRunID()

	steps := [][2]string{{"CREATED", "SUBMITTED"}, {"SUBMITTED", "POLLING"}, {"POLLING", "SUCCEEDED"}}
	for i, st := range steps {
		evt := &event.Event{
			ID: id.NewEventID(), Kind: event.KindTransition, RunID: runID, SlotID: "nightly",
			From: st[0], To: st[1], Attempt: i, Timestamp: T0.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	noise := &event.Event{ID: id.NewEventID(), Kind: event.KindQueryFailed, RunID: other, Detail: "timeout", Timestamp: T0}
	if err := s.AppendEvent(ctx, noise); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	got, err := s.ListEvents(ctx, runID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != len(steps) {
		t.Fatalf("got %d events, want %d", len(got), len(steps))
	}
	for i, evt := range got {
		if evt.From != steps[i][0] || evt.To != steps[i][1] || evt.Attempt != i {
			t.Errorf("events[%d] = %s→%s #%d", i, evt.From, evt.To, evt.Attempt)
		}
		if evt.RunID != runID || evt.Kind != event.KindTransition {
			t.Errorf("events[%d] run/kind = %s/%s", i, evt.RunID, evt.Kind)
		}
	}

	empty, err := s.ListEvents(ctx, id.NewRunID())
	if err != nil {
		t.Fatalf("ListEvents(empty): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown run has %d events", len(empty))
	}
}

func newEntry(t *testing.T, name string) *cron.Entry {
	t.Helper()
	e, err := cron.NewEntry(name, "0 18 * * MON-FRI", []byte(`{"report":"daily"}`), T0)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	return e
}

func testCronDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.RegisterCron(ctx, newEntry(t, "nightly")); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	if err := s.RegisterCron(ctx, newEntry(t, "nightly")); !errors.Is(err, jobpoller.ErrDuplicateCron) {
		t.Fatalf("duplicate RegisterCron = %v, want ErrDuplicateCron", err)
	}
	if err := s.RegisterCron(ctx, newEntry(t, "hourly")); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	entries, err := s.ListCrons(ctx)
	if err != nil {
		t.Fatalf("ListCrons: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "hourly" || entries[1].Name != "nightly" {
		t.Fatalf("ListCrons order wrong: %d entries", len(entries))
	}
}

func testCronLock(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newEntry(t, "nightly")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	w1, w2 := id.NewWorkerID(), id.NewWorkerID()

	ok, err := s.AcquireCronLock(ctx, e.ID, w1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("w1 acquire = %v, %v", ok, err)
	}
	ok, err = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if err != nil || ok {
		t.Fatalf("w2 acquire while held = %v, %v", ok, err)
	}
	ok, err = s.AcquireCronLock(ctx, e.ID, w1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("w1 re-acquire = %v, %v", ok, err)
	}

	// Releasing someone else's lock is a no-op.
	if err = s.ReleaseCronLock(ctx, e.ID, w2); err != nil {
		t.Fatalf("w2 release: %v", err)
	}
	if ok, _ = s.AcquireCronLock(ctx, e.ID, w2, time.Minute); ok {
		t.Fatal("w2 acquired after foreign release")
	}

	if err = s.ReleaseCronLock(ctx, e.ID, w1); err != nil {
		t.Fatalf("w1 release: %v", err)
	}
	ok, err = s.AcquireCronLock(ctx, e.ID, w2, time.Minute)
	if err != nil || !ok {
		t.Fatalf("w2 acquire after release = %v, %v", ok, err)
	}

	if _, err = s.AcquireCronLock(ctx, id.NewCronID(), w1, time.Minute); !errors.Is(err, jobpoller.ErrCronNotFound) {
		t.Fatalf("acquire missing = %v, want ErrCronNotFound", err)
	}
}

func testCronUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newEntry(t, "nightly")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	w := id.NewWorkerID()
	if ok, err := s.AcquireCronLock(ctx, e.ID, w, time.Minute); err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}

	next := T0.Add(24 * time.Hour)
	e.NextRunAt = &next
	e.Enabled = false
	e.LockedBy = ""
	e.LockedUntil = nil
	if err := s.UpdateCronEntry(ctx, e); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}
	if err := s.UpdateCronLastRun(ctx, e.ID, T0); err != nil {
		t.Fatalf("UpdateCronLastRun: %v", err)
	}

	got, err := s.GetCron(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.Enabled || got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("entry = enabled:%v next:%v", got.Enabled, got.NextRunAt)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(T0) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, T0)
	}
	if got.LockedBy != w.String() {
		t.Errorf("LockedBy = %q, want lock untouched by update", got.LockedBy)
	}
	if string(got.Parameters) != `{"report":"daily"}` {
		t.Errorf("Parameters = %s", got.Parameters)
	}

	missing := newEntry(t, "ghost")
	if err := s.UpdateCronEntry(ctx, missing); !errors.Is(err, jobpoller.ErrCronNotFound) {
		t.Fatalf("UpdateCronEntry(missing) = %v, want ErrCronNotFound", err)
	}
}

func testCronDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newEntry(t, "nightly")
	if err := s.RegisterCron(ctx, e); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	if err := s.DeleteCron(ctx, e.ID); err != nil {
		t.Fatalf("DeleteCron: %v", err)
	}
	if _, err := s.GetCron(ctx, e.ID); !errors.Is(err, jobpoller.ErrCronNotFound) {
		t.Fatalf("GetCron after delete = %v, want ErrCronNotFound", err)
	}
	if err := s.DeleteCron(ctx, e.ID); !errors.Is(err, jobpoller.ErrCronNotFound) {
		t.Fatalf("second DeleteCron = %v, want ErrCronNotFound", err)
	}
	// The name is free again.
	if err := s.RegisterCron(ctx, newEntry(t, "nightly")); err != nil {
		t.Fatalf("RegisterCron after delete: %v", err)
	}
}
