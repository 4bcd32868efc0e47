// Package memory provides an in-memory implementation of store.Store for
// tests and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/cron"
	"github.com/xraph/jobpoller/event"
	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

// Ensure Store implements each subsystem store at compile time.
// We can't import store here (import cycle in tests), so we verify each one.
var (
	_ workflow.Store = (*Store)(nil)
	_ cron.Store     = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Values are copied in and out so callers
// never share memory with the store.
type Store struct {
	mu sync.RWMutex

	runs map[string]*workflow.Run
	// active maps slot id → id of its non-terminal run.
	active map[string]string
	// seq orders runs by creation for "latest" and list queries.
	seq    map[string]int64
	nextSq int64

	events map[string][]*event.Event
	crons  map[string]*cron.Entry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:   make(map[string]*workflow.Run),
		active: make(map[string]string),
		seq:    make(map[string]int64),
		events: make(map[string][]*event.Event),
		crons:  make(map[string]*cron.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateRun persists a new run and marks its slot active.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.active[run.SlotID]; busy && !run.State.Terminal() {
		return jobpoller.ErrSlotActive
	}
	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return fmt.Errorf("memory: run %s already exists", key)
	}

	run.Version = 1
	m.runs[key] = run.Clone()
	m.nextSq++
	m.seq[key] = m.nextSq
	if !run.State.Terminal() {
		m.active[run.SlotID] = key
	}
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, jobpoller.ErrRunNotFound
	}
	return r.Clone(), nil
}

// UpdateRun replaces a run if its version matches and the stored run is
// not terminal.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	cur, ok := m.runs[key]
	if !ok {
		return jobpoller.ErrRunNotFound
	}
	if cur.State.Terminal() {
		return jobpoller.ErrRunTerminal
	}
	if cur.Version != run.Version {
		return jobpoller.ErrVersionConflict
	}

	run.Version++
	m.runs[key] = run.Clone()
	if run.State.Terminal() && m.active[run.SlotID] == key {
		delete(m.active, run.SlotID)
	}
	return nil
}

// GetActiveRun returns the non-terminal run of a slot.
func (m *Store) GetActiveRun(_ context.Context, slotID string) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.active[slotID]
	if !ok {
		return nil, jobpoller.ErrRunNotFound
	}
	return m.runs[key].Clone(), nil
}

// GetLatestRun returns the most recently created run of a slot.
func (m *Store) GetLatestRun(_ context.Context, slotID string) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		latest *workflow.Run
		best   int64
	)
	for key, r := range m.runs {
		if r.SlotID != slotID {
			continue
		}
		if sq := m.seq[key]; sq > best {
			latest, best = r, sq
		}
	}
	if latest == nil {
		return nil, jobpoller.ErrRunNotFound
	}
	return latest.Clone(), nil
}

// ListRuns returns runs matching opts, newest first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.runs))
	for key, r := range m.runs {
		if opts.State != "" && r.State != opts.State {
			continue
		}
		if opts.SlotID != "" && r.SlotID != opts.SlotID {
			continue
		}
		if opts.ActiveOnly && r.State.Terminal() {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return m.seq[keys[i]] > m.seq[keys[j]] })

	keys = paginate(keys, opts.Offset, opts.Limit)
	result := make([]*workflow.Run, len(keys))
	for i, key := range keys {
		result[i] = m.runs[key].Clone()
	}
	return result, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// AppendEvent appends an event to its run's log.
func (m *Store) AppendEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	key := evt.RunID.String()
	m.events[key] = append(m.events[key], &cp)
	return nil
}

// ListEvents returns a run's events in append order.
func (m *Store) ListEvents(_ context.Context, runID id.RunID) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.events[runID.String()]
	out := make([]*event.Event, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// RegisterCron persists a new cron entry. Names are unique.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return jobpoller.ErrDuplicateCron
		}
	}
	m.crons[entry.ID.String()] = cloneEntry(entry)
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, jobpoller.ErrCronNotFound
	}
	return cloneEntry(e), nil
}

// ListCrons returns all cron entries ordered by name.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		result = append(result, cloneEntry(e))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// AcquireCronLock takes the entry's lock if it is free, expired, or
// already held by workerID.
func (m *Store) AcquireCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return false, jobpoller.ErrCronNotFound
	}

	now := time.Now().UTC()
	owner := workerID.String()
	if e.LockedBy != "" && e.LockedBy != owner && e.LockedUntil != nil && e.LockedUntil.After(now) {
		return false, nil
	}
	until := now.Add(ttl)
	e.LockedBy = owner
	e.LockedUntil = &until
	return true, nil
}

// ReleaseCronLock releases the entry's lock if workerID holds it.
func (m *Store) ReleaseCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return jobpoller.ErrCronNotFound
	}
	if e.LockedBy == workerID.String() {
		e.LockedBy = ""
		e.LockedUntil = nil
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (m *Store) UpdateCronLastRun(_ context.Context, entryID id.CronID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return jobpoller.ErrCronNotFound
	}
	t := at
	e.LastRunAt = &t
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCronEntry updates a cron entry. Lock fields are owned by the
// store and kept as stored.
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	cur, ok := m.crons[key]
	if !ok {
		return jobpoller.ErrCronNotFound
	}
	cp := cloneEntry(entry)
	cp.LockedBy = cur.LockedBy
	cp.LockedUntil = cur.LockedUntil
	m.crons[key] = cp
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return jobpoller.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}

func cloneEntry(e *cron.Entry) *cron.Entry {
	cp := *e
	if e.Parameters != nil {
		cp.Parameters = append([]byte(nil), e.Parameters...)
	}
	cp.LastRunAt = cloneTime(e.LastRunAt)
	cp.NextRunAt = cloneTime(e.NextRunAt)
	cp.LockedUntil = cloneTime(e.LockedUntil)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
