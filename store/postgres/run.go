package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

const runColumns = `
	id, slot_id, scheduled_at, parameters, job_id, state, cause, error,
	attempt_count, started_at, deadline, last_status, last_status_payload,
	completed_at, version, created_at, updated_at, owner, lease_expires_at`

const activeStates = `('CREATED', 'SUBMITTED', 'POLLING')`

const terminalStates = `('SUCCEEDED', 'FAILED', 'TIMED_OUT', 'CANCELLED')`

// CreateRun persists a new run. The partial unique index rejects a second
// non-terminal run for the same slot with jobpoller.ErrSlotActive.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	run.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobpoller_runs (`+runColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		run.ID.String(), run.SlotID, run.ScheduledAt, run.Parameters, run.JobID,
		string(run.State), string(run.Cause), run.Error,
		run.AttemptCount, run.StartedAt, run.Deadline, run.LastStatus, run.LastStatusPayload,
		run.CompletedAt, run.Version, run.CreatedAt, run.UpdatedAt,
		run.Owner, leaseOrNil(run.LeaseExpiresAt),
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == activeSlotIndex {
				return jobpoller.ErrSlotActive
			}
			return fmt.Errorf("jobpoller/postgres: run %s already exists", run.ID)
		}
		return fmt.Errorf("jobpoller/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM jobpoller_runs WHERE id = $1`,
		runID.String(),
	)
	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobpoller.ErrRunNotFound
		}
		return nil, fmt.Errorf("jobpoller/postgres: get run: %w", err)
	}
	return run, nil
}

// UpdateRun writes run if its version matches the stored version and the
// stored run is not terminal. On success run.Version is incremented.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobpoller_runs SET
			job_id = $3, state = $4, cause = $5, error = $6,
			attempt_count = $7, last_status = $8, last_status_payload = $9,
			completed_at = $10, updated_at = $11, owner = $12, lease_expires_at = $13,
			version = version + 1
		WHERE id = $1 AND version = $2 AND state NOT IN `+terminalStates,
		run.ID.String(), run.Version,
		run.JobID, string(run.State), string(run.Cause), run.Error,
		run.AttemptCount, run.LastStatus, run.LastStatusPayload,
		run.CompletedAt, run.UpdatedAt, run.Owner, leaseOrNil(run.LeaseExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("jobpoller/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		run.Version++
		return nil
	}

	// Work out why nothing matched.
	var (
		state   string
		version int64
	)
	err = s.pool.QueryRow(ctx,
		`SELECT state, version FROM jobpoller_runs WHERE id = $1`,
		run.ID.String(),
	).Scan(&state, &version)
	switch {
	case isNoRows(err):
		return jobpoller.ErrRunNotFound
	case err != nil:
		return fmt.Errorf("jobpoller/postgres: check run: %w", err)
	case workflow.State(state).Terminal():
		return jobpoller.ErrRunTerminal
	default:
		return jobpoller.ErrVersionConflict
	}
}

// GetActiveRun returns the non-terminal run of a slot.
func (s *Store) GetActiveRun(ctx context.Context, slotID string) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM jobpoller_runs
		WHERE slot_id = $1 AND state IN `+activeStates+`
		LIMIT 1`,
		slotID,
	)
	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobpoller.ErrRunNotFound
		}
		return nil, fmt.Errorf("jobpoller/postgres: get active run: %w", err)
	}
	return run, nil
}

// GetLatestRun returns the most recently created run of a slot.
func (s *Store) GetLatestRun(ctx context.Context, slotID string) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM jobpoller_runs
		WHERE slot_id = $1
		ORDER BY seq DESC
		LIMIT 1`,
		slotID,
	)
	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobpoller.ErrRunNotFound
		}
		return nil, fmt.Errorf("jobpoller/postgres: get latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs matching opts, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	var (
		where []string
		args  []any
	)
	if opts.State != "" {
		args = append(args, string(opts.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if opts.SlotID != "" {
		args = append(args, opts.SlotID)
		where = append(where, fmt.Sprintf("slot_id = $%d", len(args)))
	}
	if opts.ActiveOnly {
		where = append(where, "state IN "+activeStates)
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + runColumns + ` FROM jobpoller_runs`)
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY seq DESC")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&q, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&q, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("jobpoller/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobpoller/postgres: scan run row: %w", scanErr)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("jobpoller/postgres: iterate run rows: %w", err)
	}
	return runs, nil
}

// scanRun scans a single run row selected with runColumns.
func scanRun(row pgx.Row) (*workflow.Run, error) {
	var (
		r     workflow.Run
		idStr string
		state string
		cause string
		lease *time.Time
	)
	err := row.Scan(
		&idStr, &r.SlotID, &r.ScheduledAt, &r.Parameters, &r.JobID, &state, &cause, &r.Error,
		&r.AttemptCount, &r.StartedAt, &r.Deadline, &r.LastStatus, &r.LastStatusPayload,
		&r.CompletedAt, &r.Version, &r.CreatedAt, &r.UpdatedAt, &r.Owner, &lease,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseRunID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("jobpoller/postgres: parse run id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID
	r.State = workflow.State(state)
	r.Cause = workflow.Cause(cause)
	r.ScheduledAt = r.ScheduledAt.UTC()
	r.StartedAt = r.StartedAt.UTC()
	r.Deadline = r.Deadline.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.CompletedAt = utcPtr(r.CompletedAt)
	if lease != nil {
		r.LeaseExpiresAt = lease.UTC()
	}
	return &r, nil
}
