// Package poll decides how long a run waits between status polls. It wraps a
// backoff.Strategy with the two guarantees the state machine relies on: a
// delay is always positive, and a wait never runs past the run's deadline.
package poll

import (
	"fmt"
	"time"

	"github.com/xraph/jobpoller"
	"github.com/xraph/jobpoller/backoff"
)

// DefaultFloor is the smallest delay NextDelay returns when none is configured.
const DefaultFloor = time.Second

// Scheduler computes poll delays from the number of polls already made.
type Scheduler struct {
	strategy backoff.Strategy
	floor    time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFloor sets the minimum delay. Non-positive values are ignored.
func WithFloor(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.floor = d
		}
	}
}

// NewScheduler creates a Scheduler. A nil strategy means
// backoff.DefaultStrategy().
func NewScheduler(strategy backoff.Strategy, opts ...Option) *Scheduler {
	if strategy == nil {
		strategy = backoff.DefaultStrategy()
	}
	s := &Scheduler{strategy: strategy, floor: DefaultFloor}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NextDelay returns the wait before the next poll given how many polls the
// run has already made. The result depends only on attemptCount and is never
// below the floor.
func (s *Scheduler) NextDelay(attemptCount int) time.Duration {
	d := s.strategy.Delay(max(attemptCount, 0) + 1)
	if d < s.floor {
		return s.floor
	}
	return d
}

// Wait returns NextDelay clamped to the time left before deadline, so the
// run wakes exactly at its deadline instead of overshooting it. It returns
// zero once the deadline has passed.
func (s *Scheduler) Wait(attemptCount int, now, deadline time.Time) time.Duration {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return min(s.NextDelay(attemptCount), remaining)
}

// FromConfig builds a Scheduler from the engine configuration.
func FromConfig(cfg jobpoller.Config) (*Scheduler, error) {
	var strategy backoff.Strategy
	switch cfg.Backoff.Strategy {
	case "", "constant":
		strategy = backoff.NewConstant(cfg.PollInterval)
	case "linear":
		strategy = backoff.NewLinear(cfg.PollInterval, cfg.Backoff.MaxInterval)
	case "exponential":
		strategy = backoff.NewExponential(cfg.PollInterval, cfg.Backoff.MaxInterval)
	case "exponential_jitter":
		strategy = backoff.NewExponentialWithJitter(cfg.PollInterval, cfg.Backoff.MaxInterval, cfg.Backoff.Seed)
	default:
		return nil, fmt.Errorf("%w: unknown backoff strategy %q", jobpoller.ErrInvalidConfig, cfg.Backoff.Strategy)
	}
	return NewScheduler(strategy, WithFloor(cfg.MinPollDelay)), nil
}
