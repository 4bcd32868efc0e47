package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/cron"
	"github.com/xraph/jobpoller/id"
)

// ── JSON model for KV storage ──

type cronEntity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Parameters  []byte     `json:"parameters,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toCronEntity(e *cron.Entry) *cronEntity {
	return &cronEntity{
		ID:          e.ID.String(),
		Name:        e.Name,
		Schedule:    e.Schedule,
		Parameters:  e.Parameters,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		Enabled:     e.Enabled,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromCronEntity(e *cronEntity) (*cron.Entry, error) {
	eID, err := id.ParseCronID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("jobpoller/redis: parse cron id: %w", err)
	}
	return &cron.Entry{
		Entity: jobpoller.Entity{
			CreatedAt: e.CreatedAt.UTC(),
			UpdatedAt: e.UpdatedAt.UTC(),
		},
		ID:          eID,
		Name:        e.Name,
		Schedule:    e.Schedule,
		Parameters:  e.Parameters,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		Enabled:     e.Enabled,
	}, nil
}

// RegisterCron persists a new cron entry. The name index is claimed with
// HSETNX so two registrations of one name cannot both succeed.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()

	claimed, err := s.client.HSetNX(ctx, cronNamesKey, entry.Name, eID).Result()
	if err != nil {
		return fmt.Errorf("jobpoller/redis: register cron name: %w", err)
	}
	if !claimed {
		return jobpoller.ErrDuplicateCron
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if setErr := setJSON(ctx, pipe, cronKey(eID), toCronEntity(entry)); setErr != nil {
			return setErr
		}
		pipe.SAdd(ctx, cronIDsKey, eID)
		return nil
	})
	if err != nil {
		s.client.HDel(ctx, cronNamesKey, entry.Name)
		return fmt.Errorf("jobpoller/redis: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	var e cronEntity
	if err := getJSON(ctx, s.client, cronKey(entryID.String()), &e); err != nil {
		if isNil(err) {
			return nil, jobpoller.ErrCronNotFound
		}
		return nil, fmt.Errorf("jobpoller/redis: get cron: %w", err)
	}
	return fromCronEntity(&e)
}

// ListCrons returns all cron entries ordered by name.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jobpoller/redis: list crons: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		var e cronEntity
		if getErr := getJSON(ctx, s.client, cronKey(eID), &e); getErr != nil {
			if isNil(getErr) {
				continue
			}
			return nil, fmt.Errorf("jobpoller/redis: list crons get %s: %w", eID, getErr)
		}
		entry, convErr := fromCronEntity(&e)
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// AcquireCronLock takes the entry's lease when it is free, expired, or
// already held by workerID.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	key := cronKey(entryID.String())
	wID := workerID.String()
	var acquired bool

	err := s.watch(ctx, func(tx *goredis.Tx) error {
		acquired = false
		var e cronEntity
		if err := getJSON(ctx, tx, key, &e); err != nil {
			if isNil(err) {
				return jobpoller.ErrCronNotFound
			}
			return fmt.Errorf("jobpoller/redis: acquire cron lock get: %w", err)
		}

		now := time.Now().UTC()
		if e.LockedBy != "" && e.LockedBy != wID && e.LockedUntil != nil && e.LockedUntil.After(now) {
			return nil
		}

		until := now.Add(ttl)
		e.LockedBy = wID
		e.LockedUntil = &until
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return setJSON(ctx, pipe, key, &e)
		})
		if err != nil {
			return fmt.Errorf("jobpoller/redis: acquire cron lock set: %w", err)
		}
		acquired = true
		return nil
	}, key)
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseCronLock clears the lease if workerID holds it.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	key := cronKey(entryID.String())
	wID := workerID.String()

	return s.watch(ctx, func(tx *goredis.Tx) error {
		var e cronEntity
		if err := getJSON(ctx, tx, key, &e); err != nil {
			if isNil(err) {
				return nil
			}
			return fmt.Errorf("jobpoller/redis: release cron lock get: %w", err)
		}
		if e.LockedBy != wID {
			return nil
		}
		e.LockedBy = ""
		e.LockedUntil = nil
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return setJSON(ctx, pipe, key, &e)
		})
		if err != nil {
			return fmt.Errorf("jobpoller/redis: release cron lock: %w", err)
		}
		return nil
	}, key)
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	key := cronKey(entryID.String())
	return s.watch(ctx, func(tx *goredis.Tx) error {
		var e cronEntity
		if err := getJSON(ctx, tx, key, &e); err != nil {
			if isNil(err) {
				return jobpoller.ErrCronNotFound
			}
			return fmt.Errorf("jobpoller/redis: update last run get: %w", err)
		}
		at = at.UTC()
		e.LastRunAt = &at
		e.UpdatedAt = time.Now().UTC()
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return setJSON(ctx, pipe, key, &e)
		})
		if err != nil {
			return fmt.Errorf("jobpoller/redis: update last run: %w", err)
		}
		return nil
	}, key)
}

// UpdateCronEntry writes the entry's definition and schedule position. The
// stored lease is kept.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	key := cronKey(entry.ID.String())
	return s.watch(ctx, func(tx *goredis.Tx) error {
		var cur cronEntity
		if err := getJSON(ctx, tx, key, &cur); err != nil {
			if isNil(err) {
				return jobpoller.ErrCronNotFound
			}
			return fmt.Errorf("jobpoller/redis: update cron get: %w", err)
		}
		if entry.Name != cur.Name {
			owner, err := tx.HGet(ctx, cronNamesKey, entry.Name).Result()
			if err != nil && !isNil(err) {
				return fmt.Errorf("jobpoller/redis: update cron name: %w", err)
			}
			if owner != "" && owner != cur.ID {
				return jobpoller.ErrDuplicateCron
			}
		}

		next := toCronEntity(entry)
		next.LockedBy = cur.LockedBy
		next.LockedUntil = cur.LockedUntil
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if entry.Name != cur.Name {
				pipe.HDel(ctx, cronNamesKey, cur.Name)
				pipe.HSet(ctx, cronNamesKey, entry.Name, cur.ID)
			}
			return setJSON(ctx, pipe, key, next)
		})
		if err != nil {
			return fmt.Errorf("jobpoller/redis: update cron: %w", err)
		}
		return nil
	}, key, cronNamesKey)
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	eID := entryID.String()
	key := cronKey(eID)

	var e cronEntity
	if err := getJSON(ctx, s.client, key, &e); err != nil {
		if isNil(err) {
			return jobpoller.ErrCronNotFound
		}
		return fmt.Errorf("jobpoller/redis: delete cron get: %w", err)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, cronIDsKey, eID)
		pipe.HDel(ctx, cronNamesKey, e.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("jobpoller/redis: delete cron: %w", err)
	}
	return nil
}
