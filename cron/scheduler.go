package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/jobpoller/id"
)

// TriggerFunc is the callback the scheduler fires for a due entry. It
// returns the created run, or a nil ID when the trigger was a no-op
// because the slot was busy. The engine provides the implementation.
type TriggerFunc func(ctx context.Context, slotID string, fireTime time.Time, params []byte) (id.RunID, error)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, runID id.RunID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL for per-entry locks.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithNow replaces the scheduler's time source.
func WithNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires cron entries on a tick loop.
type Scheduler struct {
	store    Store
	trigger  TriggerFunc
	emitter  Emitter
	workerID id.WorkerID
	logger   *slog.Logger
	now      func() time.Time

	tickInterval time.Duration
	lockTTL      time.Duration

	// parsed caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. emitter and logger may be nil.
func NewScheduler(
	store Store,
	trigger TriggerFunc,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		trigger:      trigger,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		now:          time.Now,
		tickInterval: 1 * time.Second,
		lockTTL:      30 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopCh
		cancel()
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every enabled entry that is due. It is called by the tick
// loop and may be called directly.
func (s *Scheduler) Tick(ctx context.Context) {
	entries, err := s.store.ListCrons(ctx)
	if err != nil {
		s.logger.Error("list crons error", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		s.fireEntry(ctx, entry, now)
	}
}

func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, now time.Time) {
	acquired, err := s.store.AcquireCronLock(ctx, entry.ID, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Error("acquire cron lock error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return // Another process got it.
	}
	defer s.releaseLock(ctx, entry)

	fireTime := *entry.NextRunAt
	runID, trigErr := s.trigger(ctx, entry.Name, fireTime, entry.Parameters)
	if trigErr != nil {
		s.logger.Error("cron trigger error",
			slog.String("cron_name", entry.Name),
			slog.Time("fire_time", fireTime),
			slog.String("error", trigErr.Error()),
		)
		return
	}

	if updateErr := s.store.UpdateCronLastRun(ctx, entry.ID, now); updateErr != nil {
		s.logger.Error("update cron last run error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}

	sched, parseErr := s.getOrParseSchedule(entry.Schedule)
	if parseErr != nil {
		s.logger.Error("parse cron schedule error",
			slog.String("cron_name", entry.Name),
			slog.String("schedule", entry.Schedule),
			slog.String("error", parseErr.Error()),
		)
	} else {
		next := sched.Next(now)
		entry.LastRunAt = &now
		entry.NextRunAt = &next
		entry.UpdatedAt = now
		if updateErr := s.store.UpdateCronEntry(ctx, entry); updateErr != nil {
			s.logger.Error("update cron next run error",
				slog.String("cron_id", entry.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
	}

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, entry.Name, runID)
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", entry.Name),
		slog.Time("fire_time", fireTime),
		slog.String("run_id", runID.String()),
		slog.Bool("skipped", runID.IsNil()),
	)
}

func (s *Scheduler) releaseLock(ctx context.Context, entry *Entry) {
	if err := s.store.ReleaseCronLock(context.WithoutCancel(ctx), entry.ID, s.workerID); err != nil {
		s.logger.Error("release cron lock error",
			slog.String("cron_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
