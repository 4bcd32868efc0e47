package workflow

import (
	"time"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/id"
)

// State represents the lifecycle state of a run.
type State string

const (
	// StateCreated means the run exists but nothing was submitted yet.
	StateCreated State = "CREATED"
	// StateSubmitted means the executor accepted the job.
	StateSubmitted State = "SUBMITTED"
	// StatePolling means the run is waiting on the job's status.
	StatePolling State = "POLLING"
	// StateSucceeded means the job finished successfully.
	StateSucceeded State = "SUCCEEDED"
	// StateFailed means the job failed or could not be submitted.
	StateFailed State = "FAILED"
	// StateTimedOut means the overall deadline passed before a terminal status.
	StateTimedOut State = "TIMED_OUT"
	// StateCancelled means an operator cancelled the run.
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateSubmitted, StatePolling,
		StateSucceeded, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// ActiveStates lists the non-terminal states.
func ActiveStates() []State {
	return []State{StateCreated, StateSubmitted, StatePolling}
}

// Cause explains why a run reached a failing terminal state.
type Cause string

const (
	CauseNone       Cause = ""
	CauseSubmission Cause = "submission"
	CauseJobFailed  Cause = "job-failed"
	CauseTimeout    Cause = "timeout"
	CauseCancelled  Cause = "cancelled"
)

// Run is one execution of a slot: a single job submitted to the executor
// and polled until it ends.
type Run struct {
	jobpoller.Entity

	ID                id.RunID   `json:"id"`
	SlotID            string     `json:"slot_id"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	Parameters        []byte     `json:"parameters,omitempty"`
	JobID             string     `json:"job_id,omitempty"`
	State             State      `json:"state"`
	Cause             Cause      `json:"cause,omitempty"`
	Error             string     `json:"error,omitempty"`
	AttemptCount      int        `json:"attempt_count"`
	StartedAt         time.Time  `json:"started_at"`
	Deadline          time.Time  `json:"deadline"`
	LastStatus        string     `json:"last_status,omitempty"`
	LastStatusPayload []byte     `json:"last_status_payload,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Version           int64      `json:"version"`

	// Owner is the worker executing the run and LeaseExpiresAt is when
	// that claim lapses. Other workers leave a leased run alone.
	Owner          string    `json:"owner,omitempty"`
	LeaseExpiresAt time.Time `json:"lease_expires_at,omitzero"`
}

// NewRun builds a CREATED run for slotID whose deadline is budget after now.
func NewRun(slotID string, scheduledAt time.Time, params []byte, now time.Time, budget time.Duration) *Run {
	now = now.UTC()
	return &Run{
		Entity:      jobpoller.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewRunID(),
		SlotID:      slotID,
		ScheduledAt: scheduledAt.UTC(),
		Parameters:  params,
		State:       StateCreated,
		StartedAt:   now,
		Deadline:    now.Add(budget),
	}
}

// LeasedByOther reports whether a worker other than owner holds an
// unexpired lease on r at now.
func (r *Run) LeasedByOther(owner string, now time.Time) bool {
	return r.Owner != "" && r.Owner != owner && now.Before(r.LeaseExpiresAt)
}

// Clone returns a deep copy of r.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Parameters = cloneBytes(r.Parameters)
	cp.LastStatusPayload = cloneBytes(r.LastStatusPayload)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
