package cron_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/cron"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/store/memory"
)

// stubEmitter records EmitCronFired calls.
type stubEmitter struct {
	mu    sync.Mutex
	calls []cronFiredCall
}

type cronFiredCall struct {
	EntryName string
	RunID     id.RunID
}

func (e *stubEmitter) EmitCronFired(_ context.Context, entryName string, runID id.RunID) {
	e.mu.Lock()
	e.calls = append(e.calls, cronFiredCall{EntryName: entryName, RunID: runID})
	e.mu.Unlock()
}

func (e *stubEmitter) getCalls() []cronFiredCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]cronFiredCall, len(e.calls))
	copy(out, e.calls)
	return out
}

// triggerSpy records trigger calls and answers with its configured result.
type triggerSpy struct {
	mu    sync.Mutex
	calls []triggerCall
	skip  bool
	err   error
}

type triggerCall struct {
	SlotID   string
	FireTime time.Time
	Params   []byte
}

func (s *triggerSpy) Fn() cron.TriggerFunc {
	return func(_ context.Context, slotID string, fireTime time.Time, params []byte) (id.RunID, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls = append(s.calls, triggerCall{SlotID: slotID, FireTime: fireTime, Params: params})
		if s.err != nil {
			return id.Nil, s.err
		}
		if s.skip {
			return id.Nil, nil
		}
		return id.NewRunID(), nil
	}
}

func (s *triggerSpy) Calls() []triggerCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]triggerCall, len(s.calls))
	copy(out, s.calls)
	return out
}

var (
	// A Monday, five minutes before the nightly report is due.
	base    = time.Date(2026, 3, 2, 17, 55, 0, 0, time.UTC)
	quiet   = slog.New(slog.NewTextHandler(io.Discard, nil))
	nightly = "0 18 * * MON-FRI"
)

func registerEntry(t *testing.T, s *memory.Store, name, schedule string) *cron.Entry {
	t.Helper()
	entry, err := cron.NewEntry(name, schedule, []byte(`{"report":"daily"}`), base)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if err := s.RegisterCron(context.Background(), entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}
	return entry
}

func newScheduler(s *memory.Store, spy *triggerSpy, em cron.Emitter, now *time.Time) *cron.Scheduler {
	return cron.NewScheduler(s, spy.Fn(), em, id.NewWorkerID(), quiet,
		cron.WithNow(func() time.Time { return *now }),
	)
}

func TestNewEntry_FirstFiring(t *testing.T) {
	entry, err := cron.NewEntry("nightly", nightly, nil, base)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	want := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	if entry.NextRunAt == nil || !entry.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", entry.NextRunAt, want)
	}
	if !entry.Enabled {
		t.Error("new entry is disabled")
	}
}

func TestNewEntry_Invalid(t *testing.T) {
	tests := []struct {
		name, entry, schedule string
	}{
		{"empty name", "  ", nightly},
		{"bad schedule", "nightly", "not a schedule"},
		{"too many fields", "nightly", "0 0 18 * * MON-FRI"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cron.NewEntry(tt.entry, tt.schedule, nil, base)
			if !errors.Is(err, jobpoller.ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestDefinition_Entry(t *testing.T) {
	type reportParams struct {
		Report string `json:"report"`
		Region string `json:"region"`
	}
	def := cron.Definition[reportParams]{
		Name:       "nightly",
		Schedule:   "@every 30s",
		Parameters: reportParams{Report: "daily", Region: "eu"},
	}
	entry, err := def.Entry(base)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if string(entry.Parameters) != `{"report":"daily","region":"eu"}` {
		t.Errorf("Parameters = %s", entry.Parameters)
	}
	if want := base.Add(30 * time.Second); !entry.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", entry.NextRunAt, want)
	}
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{nightly, "*/5 * * * *", "@hourly", "@every 1m"} {
		if _, err := cron.ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q) = %v", expr, err)
		}
	}
	if _, err := cron.ParseSchedule("61 * * * *"); err == nil {
		t.Error("ParseSchedule accepted minute 61")
	}
}

func TestTick_NotDueDoesNothing(t *testing.T) {
	s := memory.New()
	registerEntry(t, s, "nightly", nightly)
	spy := &triggerSpy{}
	now := base.Add(4 * time.Minute)

	newScheduler(s, spy, nil, &now).Tick(context.Background())

	if n := len(spy.Calls()); n != 0 {
		t.Fatalf("trigger called %d times before the entry was due", n)
	}
}

func TestTick_FiresDueEntry(t *testing.T) {
	s := memory.New()
	entry := registerEntry(t, s, "nightly", nightly)
	spy := &triggerSpy{}
	em := &stubEmitter{}
	now := base.Add(5*time.Minute + 400*time.Millisecond)
	ctx := context.Background()

	newScheduler(s, spy, em, &now).Tick(ctx)

	calls := spy.Calls()
	if len(calls) != 1 {
		t.Fatalf("trigger called %d times, want 1", len(calls))
	}
	fire := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	if calls[0].SlotID != "nightly" || !calls[0].FireTime.Equal(fire) {
		t.Errorf("trigger(%q, %v), want (nightly, %v)", calls[0].SlotID, calls[0].FireTime, fire)
	}
	if string(calls[0].Params) != `{"report":"daily"}` {
		t.Errorf("params = %s", calls[0].Params)
	}

	got, err := s.GetCron(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if want := time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC); !got.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, want)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, now)
	}
	if got.LockedBy != "" {
		t.Errorf("lock still held by %q", got.LockedBy)
	}

	fired := em.getCalls()
	if len(fired) != 1 || fired[0].EntryName != "nightly" || fired[0].RunID.IsNil() {
		t.Errorf("EmitCronFired calls = %+v", fired)
	}
}

func TestTick_FiresOncePerActivation(t *testing.T) {
	s := memory.New()
	registerEntry(t, s, "nightly", nightly)
	spy := &triggerSpy{}
	now := base.Add(5 * time.Minute)
	sched := newScheduler(s, spy, nil, &now)

	for range 3 {
		sched.Tick(context.Background())
		now = now.Add(time.Second)
	}

	if n := len(spy.Calls()); n != 1 {
		t.Fatalf("trigger called %d times, want 1", n)
	}
}

func TestTick_SkippedTriggerStillAdvances(t *testing.T) {
	s := memory.New()
	entry := registerEntry(t, s, "nightly", nightly)
	spy := &triggerSpy{skip: true}
	em := &stubEmitter{}
	now := base.Add(5 * time.Minute)
	ctx := context.Background()

	newScheduler(s, spy, em, &now).Tick(ctx)

	got, _ := s.GetCron(ctx, entry.ID)
	if want := time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC); !got.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, want)
	}
	fired := em.getCalls()
	if len(fired) != 1 || !fired[0].RunID.IsNil() {
		t.Errorf("EmitCronFired calls = %+v, want one with a nil run id", fired)
	}
}

func TestTick_TriggerErrorRetriesNextTick(t *testing.T) {
	s := memory.New()
	entry := registerEntry(t, s, "nightly", nightly)
	spy := &triggerSpy{err: errors.New("store unavailable")}
	em := &stubEmitter{}
	now := base.Add(5 * time.Minute)
	ctx := context.Background()
	sched := newScheduler(s, spy, em, &now)

	sched.Tick(ctx)

	got, _ := s.GetCron(ctx, entry.ID)
	if !got.NextRunAt.Equal(*entry.NextRunAt) {
		t.Errorf("NextRunAt advanced to %v after a failed trigger", got.NextRunAt)
	}
	if got.LockedBy != "" {
		t.Errorf("lock still held by %q", got.LockedBy)
	}
	if n := len(em.getCalls()); n != 0 {
		t.Errorf("EmitCronFired called %d times after a failed trigger", n)
	}

	spy.mu.Lock()
	spy.err = nil
	spy.mu.Unlock()
	now = now.Add(time.Second)
	sched.Tick(ctx)

	calls := spy.Calls()
	if len(calls) != 2 || !calls[1].FireTime.Equal(*entry.NextRunAt) {
		t.Fatalf("retry calls = %+v", calls)
	}
}

func TestTick_DisabledEntrySkipped(t *testing.T) {
	s := memory.New()
	entry := registerEntry(t, s, "nightly", nightly)
	entry.Enabled = false
	if err := s.UpdateCronEntry(context.Background(), entry); err != nil {
		t.Fatalf("UpdateCronEntry: %v", err)
	}
	spy := &triggerSpy{}
	now := base.Add(time.Hour)

	newScheduler(s, spy, nil, &now).Tick(context.Background())

	if n := len(spy.Calls()); n != 0 {
		t.Fatalf("disabled entry fired %d times", n)
	}
}

func TestTick_LockHeldByAnotherWorker(t *testing.T) {
	s := memory.New()
	entry := registerEntry(t, s, "nightly", nightly)
	ctx := context.Background()

	ok, err := s.AcquireCronLock(ctx, entry.ID, id.NewWorkerID(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireCronLock = %v, %v", ok, err)
	}

	spy := &triggerSpy{}
	now := base.Add(5 * time.Minute)
	newScheduler(s, spy, nil, &now).Tick(ctx)

	if n := len(spy.Calls()); n != 0 {
		t.Fatalf("fired %d times while another worker held the lock", n)
	}
}

func TestTick_MultipleEntries(t *testing.T) {
	s := memory.New()
	registerEntry(t, s, "nightly", nightly)
	registerEntry(t, s, "heartbeat", "@every 1m")
	registerEntry(t, s, "weekly", "0 6 * * SUN")
	spy := &triggerSpy{}
	now := base.Add(5 * time.Minute)

	newScheduler(s, spy, nil, &now).Tick(context.Background())

	slots := map[string]bool{}
	for _, c := range spy.Calls() {
		slots[c.SlotID] = true
	}
	if len(slots) != 2 || !slots["nightly"] || !slots["heartbeat"] {
		t.Fatalf("fired slots = %v, want nightly and heartbeat", slots)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := memory.New()
	entry, err := cron.NewEntry("heartbeat", "@every 1s", nil, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	if err := s.RegisterCron(context.Background(), entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	spy := &triggerSpy{}
	sched := cron.NewScheduler(s, spy.Fn(), nil, id.NewWorkerID(), quiet,
		cron.WithTickInterval(10*time.Millisecond),
	)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(spy.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(spy.Calls()) == 0 {
		t.Fatal("running scheduler never fired a due entry")
	}
}
