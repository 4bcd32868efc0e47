package event

import (
	"context"
	"time"

	"github.com/xraph/jobpoller/id"
)

// Log stamps events and appends them to a Store.
type Log struct {
	store Store
	now   func() time.Time
}

// NewLog creates an event log backed by store. A nil now uses time.Now.
func NewLog(store Store, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{store: store, now: now}
}

// Append assigns an ID and, when unset, a timestamp, then persists evt.
func (l *Log) Append(ctx context.Context, evt *Event) (*Event, error) {
	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.now().UTC()
	}
	if err := l.store.AppendEvent(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// List returns the events of a run.
func (l *Log) List(ctx context.Context, runID id.RunID) ([]*Event, error) {
	return l.store.ListEvents(ctx, runID)
}

// Store returns the underlying event store.
func (l *Log) Store() Store { return l.store }
