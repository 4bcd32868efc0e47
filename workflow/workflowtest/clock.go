// Package workflowtest provides helpers for testing code built on the
// workflow machine.
package workflowtest

import (
	"context"
	"sync"
	"time"
)

// Clock is a virtual clock. Sleep advances the clock by the requested
// duration and returns immediately, so a five minute polling schedule runs
// in microseconds. It is safe for concurrent use.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// BeforeSleep, when set, is called with the requested duration before
	// the clock advances. It may block; Sleep still honours ctx.
	BeforeSleep func(ctx context.Context, d time.Duration)
}

// NewClock creates a Clock reading start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep advances the clock by d unless ctx is already done.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if c.BeforeSleep != nil {
		c.BeforeSleep(ctx, d)
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// Sleeps returns every duration passed to Sleep, in order.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}
