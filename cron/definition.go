package cron

import (
	"encoding/json"
	"fmt"
	"time"
)

// Definition is a typed cron definition. T is the submission parameter
// type and must be JSON-serializable.
type Definition[T any] struct {
	// Name is the slot id fired by this entry.
	Name string

	// Schedule is a cron expression (e.g., "0 18 * * MON-FRI" or "@every 30s").
	Schedule string

	// Parameters are submitted to the executor on every firing.
	Parameters T
}

// Entry marshals the parameters and builds the Entry for d.
func (d Definition[T]) Entry(now time.Time) (*Entry, error) {
	params, err := json.Marshal(d.Parameters)
	if err != nil {
		return nil, fmt.Errorf("cron: marshal parameters of %q: %w", d.Name, err)
	}
	return NewEntry(d.Name, d.Schedule, params, now)
}
