// Package ratelimit computes publication capacity from the publish log over a
// sliding time window. Capacity recovers continuously as records age out of
// the window, there are no fixed resets.
package ratelimit

import (
	"context"
	"time"
)

// PublishLog is the read-only view of the publish log the limiter needs.
type PublishLog interface {
	CountPublishedSince(ctx context.Context, since time.Time) (int, error)
	OldestPublishedSince(ctx context.Context, since time.Time) (time.Time, bool, error)
}

// Limiter derives remaining publish capacity from publish log records.
type Limiter struct {
	log PublishLog
	now func() time.Time
}

// New returns a limiter over the given publish log.
func New(log PublishLog) *Limiter {
	return &Limiter{log: log, now: time.Now}
}

// NewWithNow returns a limiter with an injected clock for deterministic tests.
func NewWithNow(log PublishLog, now func() time.Time) *Limiter {
	return &Limiter{log: log, now: now}
}

// CountInWindow returns the number of publishes within the last window.
func (l *Limiter) CountInWindow(ctx context.Context, window time.Duration) (int, error) {
	return l.log.CountPublishedSince(ctx, l.now().Add(-window))
}

// RemainingCapacity returns how many publish slots are left in the current
// window, never negative.
func (l *Limiter) RemainingCapacity(ctx context.Context, maxPerWindow int, window time.Duration) (int, error) {
	count, err := l.CountInWindow(ctx, window)
	if err != nil {
		return 0, err
	}
	remaining := maxPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// NextAvailableTime returns when the next publish slot opens: the moment the
// oldest in-window record falls out of the window. The boolean is false when
// capacity is already available.
func (l *Limiter) NextAvailableTime(ctx context.Context, maxPerWindow int, window time.Duration) (time.Time, bool, error) {
	remaining, err := l.RemainingCapacity(ctx, maxPerWindow, window)
	if err != nil {
		return time.Time{}, false, err
	}
	if remaining > 0 {
		return time.Time{}, false, nil
	}
	oldest, ok, err := l.log.OldestPublishedSince(ctx, l.now().Add(-window))
	if err != nil {
		return time.Time{}, false, err
	}
	if !ok {
		// Exhausted capacity with an empty window only happens with a zero
		// limit, there is no slot to wait for.
		return time.Time{}, false, nil
	}
	return oldest.Add(window), true, nil
}
