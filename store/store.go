// Package store defines the aggregate persistence interface. Each subsystem
// (workflow, event, cron) defines its own store interface. The composite
// Store composes them all. Backends: Postgres, Redis and Memory.
package store

import (
	"context"

	"github.com/xraph/jobpoller/cron"
	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/workflow"
)

// Store is the aggregate persistence interface.
// A single backend implements all of the subsystem stores.
type Store interface {
	workflow.Store
	event.Store
	cron.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
