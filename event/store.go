package event

import (
	"context"

	"github.com/xraph/jobpoller/id"
)

// Store defines the persistence contract for the event log.
type Store interface {
	// AppendEvent persists evt. Events are never updated or deleted.
	AppendEvent(ctx context.Context, evt *Event) error

	// ListEvents returns the events of a run in append order.
	ListEvents(ctx context.Context, runID id.RunID) ([]*Event, error)
}
