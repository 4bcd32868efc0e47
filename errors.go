package jobpoller

import "errors"

var (
	// Wiring errors.
	ErrNoStore        = errors.New("jobpoller: no store configured")
	ErrNoExecutor     = errors.New("jobpoller: no executor client configured")
	ErrInvalidConfig  = errors.New("jobpoller: invalid configuration")
	ErrInvalidTrigger = errors.New("jobpoller: invalid trigger")

	// Not found errors.
	ErrRunNotFound  = errors.New("jobpoller: run not found")
	ErrCronNotFound = errors.New("jobpoller: cron entry not found")

	// Conflict errors.
	ErrDuplicateCron   = errors.New("jobpoller: duplicate cron entry")
	ErrSlotActive      = errors.New("jobpoller: slot already has an active run")
	ErrVersionConflict = errors.New("jobpoller: run was modified concurrently")
	ErrRunLeased       = errors.New("jobpoller: run is leased by another worker")

	// State errors.
	ErrRunTerminal  = errors.New("jobpoller: run is in a terminal state")
	ErrInvalidState = errors.New("jobpoller: invalid state transition")

	// Context cancellation causes. ErrCancelled ends a run as cancelled;
	// ErrShutdown stops execution and leaves the run resumable.
	ErrCancelled = errors.New("jobpoller: run cancelled")
	ErrShutdown  = errors.New("jobpoller: shutting down")
)
