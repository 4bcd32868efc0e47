package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/cron"
	"github.com/xraph/jobpoller/id"
)

const cronColumns = `
	id, name, schedule, parameters,
	last_run_at, next_run_at, locked_by, locked_until,
	enabled, created_at, updated_at`

// RegisterCron persists a new cron entry.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobpoller_cron_entries (`+cronColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.Parameters,
		entry.LastRunAt, entry.NextRunAt, nilIfEmpty(entry.LockedBy), entry.LockedUntil,
		entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return jobpoller.ErrDuplicateCron
		}
		return fmt.Errorf("jobpoller/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+cronColumns+` FROM jobpoller_cron_entries WHERE id = $1`,
		entryID.String(),
	)
	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jobpoller.ErrCronNotFound
		}
		return nil, fmt.Errorf("jobpoller/postgres: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries ordered by name.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cronColumns+` FROM jobpoller_cron_entries ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("jobpoller/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobpoller/postgres: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("jobpoller/postgres: iterate cron rows: %w", err)
	}
	return entries, nil
}

// AcquireCronLock takes the entry's lease when it is free, expired, or
// already held by workerID.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobpoller_cron_entries
		SET locked_by = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
		  AND (locked_by IS NULL OR locked_until < $4 OR locked_by = $2)`,
		entryID.String(), workerID.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("jobpoller/postgres: acquire cron lock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM jobpoller_cron_entries WHERE id = $1)`,
		entryID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("jobpoller/postgres: check cron exists: %w", err)
	}
	if !exists {
		return false, jobpoller.ErrCronNotFound
	}
	return false, nil
}

// ReleaseCronLock clears the lease if workerID holds it.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobpoller_cron_entries
		SET locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND locked_by = $2`,
		entryID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobpoller/postgres: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobpoller_cron_entries
		SET last_run_at = $2, updated_at = NOW()
		WHERE id = $1`,
		entryID.String(), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("jobpoller/postgres: update cron last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobpoller.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry writes the entry's definition and schedule position. The
// lease columns are owned by AcquireCronLock and ReleaseCronLock.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobpoller_cron_entries SET
			name = $2, schedule = $3, parameters = $4,
			last_run_at = $5, next_run_at = $6,
			enabled = $7, updated_at = $8
		WHERE id = $1`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.Parameters,
		entry.LastRunAt, entry.NextRunAt,
		entry.Enabled, entry.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return jobpoller.ErrDuplicateCron
		}
		return fmt.Errorf("jobpoller/postgres: update cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobpoller.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobpoller_cron_entries WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("jobpoller/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobpoller.ErrCronNotFound
	}
	return nil
}

func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e      cron.Entry
		idStr  string
		lockBy *string
	)
	err := row.Scan(
		&idStr, &e.Name, &e.Schedule, &e.Parameters,
		&e.LastRunAt, &e.NextRunAt, &lockBy, &e.LockedUntil,
		&e.Enabled, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseCronID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("jobpoller/postgres: parse cron id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID
	if lockBy != nil {
		e.LockedBy = *lockBy
	}
	e.LastRunAt = utcPtr(e.LastRunAt)
	e.NextRunAt = utcPtr(e.NextRunAt)
	e.LockedUntil = utcPtr(e.LockedUntil)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
