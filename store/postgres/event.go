package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/id"
)

// AppendEvent persists evt at the end of its run's log.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobpoller_events (
			id, kind, run_id, slot_id, from_state, to_state, cause, attempt, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		evt.ID.String(), string(evt.Kind), evt.RunID.String(), evt.SlotID,
		evt.From, evt.To, evt.Cause, evt.Attempt, evt.Detail, evt.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("jobpoller/postgres: append event: %w", err)
	}
	return nil
}

// ListEvents returns the events of a run in append order.
func (s *Store) ListEvents(ctx context.Context, runID id.RunID) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, run_id, slot_id, from_state, to_state, cause, attempt, detail, created_at
		FROM jobpoller_events
		WHERE run_id = $1
		ORDER BY seq ASC`,
		runID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("jobpoller/postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobpoller/postgres: scan event row: %w", scanErr)
		}
		events = append(events, evt)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("jobpoller/postgres: iterate event rows: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		evt      event.Event
		idStr    string
		runIDStr string
		kind     string
	)
	err := row.Scan(
		&idStr, &kind, &runIDStr, &evt.SlotID,
		&evt.From, &evt.To, &evt.Cause, &evt.Attempt, &evt.Detail, &evt.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if evt.ID, err = id.ParseEventID(idStr); err != nil {
		return nil, fmt.Errorf("jobpoller/postgres: parse event id %q: %w", idStr, err)
	}
	if evt.RunID, err = id.ParseRunID(runIDStr); err != nil {
		return nil, fmt.Errorf("jobpoller/postgres: parse run id %q: %w", runIDStr, err)
	}
	evt.Kind = event.Kind(kind)
	evt.Timestamp = evt.Timestamp.UTC()
	return &evt, nil
}
