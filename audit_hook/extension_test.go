package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/jobpoller/audit_hook"
	"github.com/xraph/jobpoller/ext"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

var t0 = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

func newTestRun() *workflow.Run {
	run := workflow.NewRun("nightly", t0, nil, t0, 5*time.Minute)
	run.JobID = "job-7"
	return run
}

func TestExtension_Name(t *testing.T) {
	if got := ah.New(&mockRecorder{}).Name(); got != "audit-hook" {
		t.Errorf("Name = %q", got)
	}
}

func TestRunFinished_ActionByState(t *testing.T) {
	tests := []struct {
		state    workflow.State
		action   string
		severity string
		outcome  string
	}{
		{workflow.StateSucceeded, ah.ActionRunSucceeded, ah.SeverityInfo, ah.OutcomeSuccess},
		{workflow.StateFailed, ah.ActionRunFailed, ah.SeverityCritical, ah.OutcomeFailure},
		{workflow.StateTimedOut, ah.ActionRunTimedOut, ah.SeverityCritical, ah.OutcomeFailure},
		{workflow.StateCancelled, ah.ActionRunCancelled, ah.SeverityWarning, ah.OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			rec := &mockRecorder{}
			e := ah.New(rec)
			run := newTestRun()
			run.State = tt.state
			run.AttemptCount = 4

			if err := e.OnRunFinished(context.Background(), run, 2*time.Minute); err != nil {
				t.Fatalf("OnRunFinished: %v", err)
			}
			evt := rec.findByAction(tt.action)
			if evt == nil {
				t.Fatalf("no %s event", tt.action)
			}
			if evt.Severity != tt.severity || evt.Outcome != tt.outcome {
				t.Errorf("severity/outcome = %s/%s, want %s/%s", evt.Severity, evt.Outcome, tt.severity, tt.outcome)
			}
			if evt.ResourceID != run.ID.String() || evt.Resource != ah.ResourceRun {
				t.Errorf("resource = %s %s", evt.Resource, evt.ResourceID)
			}
			if evt.Metadata["polls"] != 4 || evt.Metadata["elapsed_ms"] != int64(120000) {
				t.Errorf("metadata = %v", evt.Metadata)
			}
		})
	}
}

func TestRegistryDispatch(t *testing.T) {
	rec := &mockRecorder{}
	r := ext.NewRegistry(slog.Default())
	r.Register(ah.New(rec))

	ctx := context.Background()
	run := newTestRun()
	r.EmitRunStarted(ctx, run)
	r.EmitPollFailed(ctx, run, errors.New("connection reset"))
	r.EmitUnknownStatus(ctx, run, "THAWING")
	r.EmitTriggerSkipped(ctx, "nightly", t0, run.ID)
	r.EmitCronFired(ctx, "nightly", id.Nil)

	if rec.count() != 5 {
		t.Fatalf("recorded %d events, want 5", rec.count())
	}
	if evt := rec.findByAction(ah.ActionPollFailed); evt.Reason != "connection reset" {
		t.Errorf("poll failed reason = %q", evt.Reason)
	}
	if evt := rec.findByAction(ah.ActionStatusUnknown); evt.Severity != ah.SeverityCritical || evt.Metadata["status"] != "THAWING" {
		t.Errorf("unknown status event = %+v", evt)
	}
	if evt := rec.findByAction(ah.ActionCronFired); evt.Metadata["skipped"] != true {
		t.Errorf("cron fired metadata = %v", evt.Metadata)
	}
}

func TestWithActions(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionRunFailed))
	ctx := context.Background()
	run := newTestRun()

	_ = e.OnRunStarted(ctx, run)
	run.State = workflow.StateSucceeded
	_ = e.OnRunFinished(ctx, run, time.Second)
	run.State = workflow.StateFailed
	_ = e.OnRunFinished(ctx, run, time.Second)

	if rec.count() != 1 || rec.findByAction(ah.ActionRunFailed) == nil {
		t.Fatalf("recorded %d events, want only run.failed", rec.count())
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("backend down")
	})
	e := ah.New(failing, ah.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	if err := e.OnRunStarted(context.Background(), newTestRun()); err != nil {
		t.Fatalf("OnRunStarted = %v, want nil", err)
	}
	if !strings.Contains(buf.String(), "backend down") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestSlogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := ah.New(ah.SlogRecorder(logger))

	run := newTestRun()
	run.State = workflow.StateTimedOut
	run.Cause = workflow.CauseTimeout
	_ = e.OnRunFinished(context.Background(), run, 5*time.Minute)

	out := buf.String()
	for _, want := range []string{"level=ERROR", "msg=audit", "action=run.timed_out", "cause=timeout", "slot_id=nightly"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestAllActions(t *testing.T) {
	seen := map[string]bool{}
	for _, a := range ah.AllActions() {
		if seen[a] {
			t.Errorf("duplicate action %s", a)
		}
		seen[a] = true
	}
	if len(seen) != 9 {
		t.Errorf("got %d actions, want 9", len(seen))
	}
}
