package workflow

import (
	"context"

	"github.com/xraph/jobpoller/id"
)

// ListOpts controls filtering and pagination for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// State filters by run state. Empty means all states.
	State State
	// SlotID filters by slot. Empty means all slots.
	SlotID string
	// ActiveOnly restricts the result to non-terminal runs.
	ActiveOnly bool
}

// Store defines the persistence contract for runs.
//
// Implementations enforce two guarantees: at most one non-terminal run per
// slot, and compare-and-swap updates keyed on Run.Version.
type Store interface {
	// CreateRun persists a new run with Version 1. It fails with
	// jobpoller.ErrSlotActive when the slot already has a non-terminal run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists run if the stored Version equals run.Version and
	// the stored state is not terminal. On success run.Version is bumped.
	// It fails with jobpoller.ErrVersionConflict or jobpoller.ErrRunTerminal.
	UpdateRun(ctx context.Context, run *Run) error

	// GetActiveRun returns the non-terminal run of a slot, or
	// jobpoller.ErrRunNotFound when the slot is idle.
	GetActiveRun(ctx context.Context, slotID string) (*Run, error)

	// GetLatestRun returns the most recently created run of a slot, or
	// jobpoller.ErrRunNotFound.
	GetLatestRun(ctx context.Context, slotID string) (*Run, error)

	// ListRuns returns runs matching opts, newest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)
}
