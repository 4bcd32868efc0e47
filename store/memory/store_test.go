package memory

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
	"github.com/xraph/jobpoller/store/storetest"
	"github.com/xraph/jobpoller/workflow"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Workflow Store tests
// ──────────────────────────────────────────────────

func newRun(slot string) *workflow.Run {
	return workflow.NewRun(slot, time.Time{}, []byte(`{"k":"v"}`), time.Now(), 5*time.Minute)
}

func createRun(t *testing.T, s *Store, slot string) *workflow.Run {
	t.Helper()
	r := newRun(slot)
	if err := s.CreateRun(context.Background(), r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return r
}

func TestCreateRun_OneActivePerSlot(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	first := createRun(t, s, "nightly")
	if first.Version != 1 {
		t.Errorf("Version = %d, want 1", first.Version)
	}

	if err := s.CreateRun(ctx, newRun("nightly")); !errors.Is(err, jobpoller.ErrSlotActive) {
		t.Fatalf("second CreateRun = %v, want ErrSlotActive", err)
	}

	// Other slots are independent.
	createRun(t, s, "hourly")

	// Finishing the first run frees the slot.
	first.State = workflow.StateSucceeded
	if err := s.UpdateRun(ctx, first); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if _, err := s.GetActiveRun(ctx, "nightly"); !errors.Is(err, jobpoller.ErrRunNotFound) {
		t.Fatalf("GetActiveRun after finish = %v, want ErrRunNotFound", err)
	}
	createRun(t, s, "nightly")
}

func TestUpdateRun_CompareAndSwap(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	r := createRun(t, s, "slot")

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

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != workflow.StateSubmitted || got.JobID != "job-1" {
		t.Errorf("stored run = %s/%s, want SUBMITTED/job-1", got.State, got.JobID)
	}
}

func TestUpdateRun_RejectsTerminal(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	r := createRun(t, s, "slot")

	r.State = workflow.StateTimedOut
	if err := s.UpdateRun(ctx, r); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	r.State = workflow.StatePolling
	if err := s.UpdateRun(ctx, r); !errors.Is(err, jobpoller.ErrRunTerminal) {
		t.Fatalf("UpdateRun on terminal = %v, want ErrRunTerminal", err)
	}
}

func TestGetRun_NotFoundAndCopies(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, jobpoller.ErrRunNotFound) {
		t.Fatalf("GetRun = %v, want ErrRunNotFound", err)
	}

	r := createRun(t, s, "slot")
	got, _ := s.GetRun(ctx, r.ID)
	got.Parameters[0] = 'X'
	again, _ := s.GetRun(ctx, r.ID)
	if string(again.Parameters) != `{"k":"v"}` {
		t.Errorf("stored parameters mutated through a returned copy: %s", again.Parameters)
	}
}

func TestGetLatestRun(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if _, err := s.GetLatestRun(ctx, "slot"); !errors.Is(err, jobpoller.ErrRunNotFound) {
		t.Fatalf("GetLatestRun on empty = %v", err)
	}

	first := createRun(t, s, "slot")
	first.State = workflow.StateFailed
	if err := s.UpdateRun(ctx, first); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	second := createRun(t, s, "slot")

	got, err := s.GetLatestRun(ctx, "slot")
	if err != nil {
		t.Fatalf("GetLatestRun: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("latest = %s, want %s", got.ID, second.ID)
	}
}

func TestListRuns_Filters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := createRun(t, s, "a")
	a.State = workflow.StateSucceeded
	if err := s.UpdateRun(ctx, a); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	createRun(t, s, "a")
	createRun(t, s, "b")

	tests := []struct {
		name string
		opts workflow.ListOpts
		want int
	}{
		{"all", workflow.ListOpts{}, 3},
		{"slot", workflow.ListOpts{SlotID: "a"}, 2},
		{"state", workflow.ListOpts{State: workflow.StateSucceeded}, 1},
		{"active", workflow.ListOpts{ActiveOnly: true}, 2},
		{"limit", workflow.ListOpts{Limit: 1}, 1},
		{"offset", workflow.ListOpts{Offset: 2}, 1},
		{"offset past end", workflow.ListOpts{Offset: 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListRuns(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}

	all, _ := s.ListRuns(ctx, workflow.ListOpts{})
	if all[0].SlotID != "b" {
		t.Errorf("newest first: got slot %q first, want b", all[0].SlotID)
	}
}

// ──────────────────────────────────────────────────
// Event Store tests
// ──────────────────────────────────────────────────

func TestEvents_AppendOrder(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	runID := id.NewRunID()

	for _, to := range []string{"SUBMITTED", "POLLING", "SUCCEEDED"} {
		if err := s.AppendEvent(ctx, &event.Event{ID: id.NewEventID(), Kind: event.KindTransition, RunID: runID, To: to}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	_ = s.AppendEvent(ctx, &event.Event{ID: id.NewEventID(), RunID: id.NewRunID(), To: "OTHER"})

	got, err := s.ListEvents(ctx, runID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].To != "SUBMITTED" || got[2].To != "SUCCEEDED" {
		t.Errorf("order = %s..%s", got[0].To, got[2].To)
	}
}

// ──────────────────────────────────────────────────
// Cron Store tests
// ──────────────────────────────────────────────────

func newEntry(t *testing.T, name string) *cron.Entry {
	t.Helper()
	e, err := cron.NewEntry(name, "@every 1m", nil, time.Now())
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	return e
}

func TestCron_RegisterDuplicateName(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.RegisterCron(ctx, newEntry(t, "nightly")); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	if err := s.RegisterCron(ctx, newEntry(t, "nightly")); !errors.Is(err, jobpoller.ErrDuplicateCron) {
		t.Fatalf("duplicate = %v, want ErrDuplicateCron", err)
	}
}

func TestCron_Lock(t *testing.T) {
	t.Parallel()
	s := New()
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
	if ok, _ := s.AcquireCronLock(ctx, e.ID, w2, time.Minute); ok {
		t.Fatal("w2 acquired a held lock")
	}
	if err := s.ReleaseCronLock(ctx, e.ID, w2); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if ok, _ := s.AcquireCronLock(ctx, e.ID, w2, time.Minute); ok {
		t.Fatal("release by non-owner freed the lock")
	}
	if err := s.ReleaseCronLock(ctx, e.ID, w1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := s.AcquireCronLock(ctx, e.ID, w2, time.Minute); !ok {
		t.Fatal("w2 could not acquire a released lock")
	}
}

func TestCron_ExpiredLockIsTakenOver(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	e := newEntry(t, "nightly")
	_ = s.RegisterCron(ctx, e)

	if ok, _ := s.AcquireCronLock(ctx, e.ID, id.NewWorkerID(), -time.Second); !ok {
		t.Fatal("first acquire failed")
	}
	if ok, _ := s.AcquireCronLock(ctx, e.ID, id.NewWorkerID(), time.Minute); !ok {
		t.Fatal("expired lock was not taken over")
	}
}

func TestCron_UpdateAndDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	e := newEntry(t, "nightly")
	_ = s.RegisterCron(ctx, e)

	e.Enabled = false
	if err := s.UpdateCronEntry(ctx, e); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}
	at := time.Now().UTC()
	if err := s.UpdateCronLastRun(ctx, e.ID, at); err != nil {
		t.Fatalf("UpdateCronLastRun: %v", err)
	}
	got, err := s.GetCron(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.Enabled || got.LastRunAt == nil || !got.LastRunAt.Equal(at) {
		t.Errorf("got Enabled=%v LastRunAt=%v", got.Enabled, got.LastRunAt)
	}

	if err := s.DeleteCron(ctx, e.ID); err != nil {
		t.Fatalf("DeleteCron: %v", err)
	}
	if _, err := s.GetCron(ctx, e.ID); !errors.Is(err, jobpoller.ErrCronNotFound) {
		t.Fatalf("GetCron after delete = %v", err)
	}
	if err := s.DeleteCron(ctx, e.ID); !errors.Is(err, jobpoller.ErrCronNotFound) {
		t.Fatalf("second DeleteCron = %v", err)
	}
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}
