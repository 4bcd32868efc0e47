// Package event defines the per-run event log: an append-only record of
// every state transition and every notable non-transition (skipped
// triggers, failed polls, unrecognised statuses).
package event

import (
	"time"

	"github.com/xraph/jobpoller/id"
)

// Kind classifies an Event.
type Kind string

const (
	// KindTransition records a state change of a run.
	KindTransition Kind = "transition"
	// KindTriggerSkipped records a trigger dropped because its slot
	// already had an active run. RunID is the active run.
	KindTriggerSkipped Kind = "trigger_skipped"
	// KindUnknownStatus records a status value outside the vocabulary.
	KindUnknownStatus Kind = "unknown_status"
	// KindQueryFailed records a failed status query that will be retried.
	KindQueryFailed Kind = "query_failed"
)

// Event is one entry of a run's event log.
type Event struct {
	ID        id.EventID `json:"id"`
	Kind      Kind       `json:"kind"`
	RunID     id.RunID   `json:"run_id"`
	SlotID    string     `json:"slot_id"`
	From      string     `json:"from_state,omitempty"`
	To        string     `json:"to_state,omitempty"`
	Cause     string     `json:"cause,omitempty"`
	Attempt   int        `json:"attempt"`
	Detail    string     `json:"detail,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
