package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/id"
)

// Entry is a recurring trigger for one slot. The entry name is the slot
// id, so a slot never has two active runs no matter how often it fires.
type Entry struct {
	jobpoller.Entity

	ID          id.CronID  `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Parameters  []byte     `json:"parameters,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
}

// NewEntry validates schedule and returns an enabled entry whose first
// firing is the schedule's next activation after now.
func NewEntry(name, schedule string, params []byte, now time.Time) (*Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: cron entry needs a name", jobpoller.ErrInvalidConfig)
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %w", jobpoller.ErrInvalidConfig, schedule, err)
	}
	now = now.UTC()
	next := sched.Next(now)
	return &Entry{
		Entity:     jobpoller.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         id.NewCronID(),
		Name:       name,
		Schedule:   schedule,
		Parameters: params,
		NextRunAt:  &next,
		Enabled:    true,
	}, nil
}
