package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

// CreateRun persists a new run with Version 1 and claims the slot's active
// key when the run is not terminal.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := runKey(rID)
	activeKey := activeSlotKey(run.SlotID)

	err := s.watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("jobpoller/redis: create run exists: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("jobpoller/redis: run %s already exists", rID)
		}

		claim := !run.State.Terminal()
		if claim {
			_, err = tx.Get(ctx, activeKey).Result()
			switch {
			case err == nil:
				return jobpoller.ErrSlotActive
			case !isNil(err):
				return fmt.Errorf("jobpoller/redis: create run active slot: %w", err)
			}
		}

		seq, err := tx.Incr(ctx, runSeqKey).Result()
		if err != nil {
			return fmt.Errorf("jobpoller/redis: create run seq: %w", err)
		}

		stored := run.Clone()
		stored.Version = 1
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, runToMap(stored))
			pipe.ZAdd(ctx, runsIndexKey, goredis.Z{Score: float64(seq), Member: rID})
			pipe.ZAdd(ctx, slotRunsKey(run.SlotID), goredis.Z{Score: float64(seq), Member: rID})
			if claim {
				pipe.Set(ctx, activeKey, rID, 0)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("jobpoller/redis: create run: %w", err)
		}
		return nil
	}, key, activeKey)
	if err != nil {
		return err
	}
	run.Version = 1
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	vals, err := s.client.HGetAll(ctx, runKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("jobpoller/redis: get run: %w", err)
	}
	if len(vals) == 0 {
		return nil, jobpoller.ErrRunNotFound
	}
	return mapToRun(vals)
}

// UpdateRun writes run if the stored version matches and the stored run is
// not terminal. A terminal write releases the slot's active key.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := runKey(rID)
	activeKey := activeSlotKey(run.SlotID)

	err := s.watch(ctx, func(tx *goredis.Tx) error {
		vals, err := tx.HMGet(ctx, key, "state", "version").Result()
		if err != nil {
			return fmt.Errorf("jobpoller/redis: update run get: %w", err)
		}
		state, ok := vals[0].(string)
		if !ok {
			return jobpoller.ErrRunNotFound
		}
		if workflow.State(state).Terminal() {
			return jobpoller.ErrRunTerminal
		}
		verStr, _ := vals[1].(string)
		version, err := strconv.ParseInt(verStr, 10, 64)
		if err != nil {
			return fmt.Errorf("jobpoller/redis: update run version %q: %w", verStr, err)
		}
		if version != run.Version {
			return jobpoller.ErrVersionConflict
		}

		var release bool
		if run.State.Terminal() {
			holder, getErr := tx.Get(ctx, activeKey).Result()
			if getErr != nil && !isNil(getErr) {
				return fmt.Errorf("jobpoller/redis: update run active slot: %w", getErr)
			}
			release = holder == rID
		}

		next := run.Clone()
		next.Version = version + 1
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, runToMap(next))
			if release {
				pipe.Del(ctx, activeKey)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("jobpoller/redis: update run: %w", err)
		}
		return nil
	}, key, activeKey)
	if err != nil {
		return err
	}
	run.Version++
	return nil
}

// GetActiveRun returns the non-terminal run of a slot.
func (s *Store) GetActiveRun(ctx context.Context, slotID string) (*workflow.Run, error) {
	rID, err := s.client.Get(ctx, activeSlotKey(slotID)).Result()
	if err != nil {
		if isNil(err) {
			return nil, jobpoller.ErrRunNotFound
		}
		return nil, fmt.Errorf("jobpoller/redis: get active run: %w", err)
	}
	runID, err := id.ParseRunID(rID)
	if err != nil {
		return nil, fmt.Errorf("jobpoller/redis: parse run id %q: %w", rID, err)
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State.Terminal() {
		return nil, jobpoller.ErrRunNotFound
	}
	return run, nil
}

// GetLatestRun returns the most recently created run of a slot.
func (s *Store) GetLatestRun(ctx context.Context, slotID string) (*workflow.Run, error) {
	ids, err := s.client.ZRevRange(ctx, slotRunsKey(slotID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("jobpoller/redis: get latest run: %w", err)
	}
	if len(ids) == 0 {
		return nil, jobpoller.ErrRunNotFound
	}
	runID, err := id.ParseRunID(ids[0])
	if err != nil {
		return nil, fmt.Errorf("jobpoller/redis: parse run id %q: %w", ids[0], err)
	}
	return s.GetRun(ctx, runID)
}

// ListRuns returns runs matching opts, newest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	index := runsIndexKey
	if opts.SlotID != "" {
		index = slotRunsKey(opts.SlotID)
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("jobpoller/redis: list runs index: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, rID := range ids {
		cmds[i] = pipe.HGetAll(ctx, runKey(rID))
	}
	if len(ids) > 0 {
		if _, err = pipe.Exec(ctx); err != nil && !isNil(err) {
			return nil, fmt.Errorf("jobpoller/redis: list runs: %w", err)
		}
	}

	var runs []*workflow.Run
	for _, cmd := range cmds {
		vals, getErr := cmd.Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		r, convErr := mapToRun(vals)
		if convErr != nil {
			s.logger.Warn("skipping unreadable run", "error", convErr)
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.ActiveOnly && r.State.Terminal() {
			continue
		}
		runs = append(runs, r)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// ── helpers ──

func runToMap(r *workflow.Run) map[string]any {
	m := map[string]any{
		"id":                  r.ID.String(),
		"slot_id":             r.SlotID,
		"scheduled_at":        formatTime(r.ScheduledAt),
		"parameters":          string(r.Parameters),
		"job_id":              r.JobID,
		"state":               string(r.State),
		"cause":               string(r.Cause),
		"error":               r.Error,
		"attempt_count":       r.AttemptCount,
		"started_at":          formatTime(r.StartedAt),
		"deadline":            formatTime(r.Deadline),
		"last_status":         r.LastStatus,
		"last_status_payload": string(r.LastStatusPayload),
		"completed_at":        "",
		"version":             r.Version,
		"created_at":          formatTime(r.CreatedAt),
		"updated_at":          formatTime(r.UpdatedAt),
		"owner":               r.Owner,
		"lease_expires_at":    formatTime(r.LeaseExpiresAt),
	}
	if r.CompletedAt != nil {
		m["completed_at"] = formatTime(*r.CompletedAt)
	}
	return m
}

func mapToRun(m map[string]string) (*workflow.Run, error) {
	rID, err := id.ParseRunID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobpoller/redis: parse run id: %w", err)
	}
	attempts, _ := strconv.Atoi(m["attempt_count"])
	version, _ := strconv.ParseInt(m["version"], 10, 64)

	r := &workflow.Run{
		Entity: jobpoller.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:                rID,
		SlotID:            m["slot_id"],
		ScheduledAt:       parseTime(m["scheduled_at"]),
		Parameters:        bytesOrNil(m["parameters"]),
		JobID:             m["job_id"],
		State:             workflow.State(m["state"]),
		Cause:             workflow.Cause(m["cause"]),
		Error:             m["error"],
		AttemptCount:      attempts,
		StartedAt:         parseTime(m["started_at"]),
		Deadline:          parseTime(m["deadline"]),
		LastStatus:        m["last_status"],
		LastStatusPayload: bytesOrNil(m["last_status_payload"]),
		Version:           version,
		Owner:             m["owner"],
		LeaseExpiresAt:    parseTime(m["lease_expires_at"]),
	}
	if v := m["completed_at"]; v != "" {
		t := parseTime(v)
		r.CompletedAt = &t
	}
	if !r.State.Valid() {
		return nil, fmt.Errorf("jobpoller/redis: run %s has unknown state %q", m["id"], m["state"])
	}
	return r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t.UTC()
}

func bytesOrNil(v string) []byte {
	if v == "" {
		return nil
	}
	return []byte(v)
}
