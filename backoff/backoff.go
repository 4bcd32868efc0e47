// Package backoff provides pluggable delay strategies for spacing status polls.
// All strategies are stateless and deterministic: the same attempt number
// always yields the same delay, so a resumed run reproduces its schedule.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before a poll attempt.
type Strategy interface {
	// Delay returns how long to wait before poll attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(max(attempt, 1))
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(exponentialBase(e.Initial, e.Max, attempt))
}

// maxBase keeps float-to-Duration conversions inside int64 range.
const maxBase = float64(1 << 62)

func exponentialBase(initial, maxDelay time.Duration, attempt int) float64 {
	base := float64(initial) * math.Pow(2, float64(max(attempt, 1)-1))
	if maxDelay > 0 && base > float64(maxDelay) {
		base = float64(maxDelay)
	}
	if base > maxBase {
		base = maxBase
	}
	return base
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (equal jitter, deterministic)
// ──────────────────────────────────────────────────

// ExponentialWithJitter spreads an exponential base with "equal jitter":
// Delay lies in [base/2, base] where base = min(Initial * 2^(attempt-1), Max).
// The jitter is derived from Seed and the attempt number, never from a
// global random source, so two runs with different seeds spread apart while
// each run keeps a reproducible schedule.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
	Seed    uint64
}

// NewExponentialWithJitter creates an exponential backoff with deterministic
// jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration, seed uint64) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay, Seed: seed}
}

// Delay returns a duration in [base/2, base].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := exponentialBase(e.Initial, e.Max, attempt)
	half := base / 2
	return time.Duration(half + unitFloat(e.Seed, uint64(attempt))*half)
}

// unitFloat maps (seed, n) to [0, 1) with a splitmix64 finalizer.
func unitFloat(seed, n uint64) float64 {
	z := seed + n*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return float64(z>>11) / (1 << 53)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the baseline poll policy: a constant 30s interval.
func DefaultStrategy() Strategy {
	return NewConstant(30 * time.Second)
}
