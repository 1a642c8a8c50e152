// Package ratelimit bounds how many operations one identity may perform in a
// fixed time window.
//
// The window is fixed, not sliding: a burst straddling a window boundary can
// see up to twice the nominal rate. Callers that cannot accept this need a
// different algorithm.
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultWindow = 30 * time.Minute
	DefaultMax    = 75
)

// Decision is the outcome of one Admit call.
type Decision struct {
	Allowed bool
	// Count is the number of operations seen in the current window, this one included.
	Count int
	Limit int
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Remaining is how many more operations the window accepts.
func (d Decision) Remaining() int {
	if r := d.Limit - d.Count; r > 0 {
		return r
	}
	return 0
}

// RetryAfter is the wait until the window resets, relative to now.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Limiter decides whether identity may perform one more operation.
// Callers resolve identity themselves (user id, else client address).
type Limiter interface {
	Admit(ctx context.Context, identity string) (Decision, error)
}

type Config struct {
	Backend string
	Window  time.Duration
	Max     int
	// SweepInterval drops expired windows from the memory backend; 0 disables.
	SweepInterval time.Duration
	Prefix        string
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	return c
}
