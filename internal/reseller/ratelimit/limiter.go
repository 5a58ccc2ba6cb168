// Package ratelimit implements a fixed-window request counter on top of an
// atomic store increment.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// CounterStore increments the counter for one window and returns the
// post-increment value in a single atomic round trip.
type CounterStore interface {
	IncrementWindow(ctx context.Context, identifier, route string, windowStart time.Time, window time.Duration) (int64, error)
}

// Result describes a single recorded hit.
type Result struct {
	Allowed    bool
	Count      int64
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter enforces fixed-window request limits on top of a CounterStore.
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a new limiter
func New(store CounterStore, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordHit counts a request against (identifier, route). When the store
// fails the request is allowed.
func (l *Limiter) RecordHit(ctx context.Context, identifier, route string, limit int64, window time.Duration) Result {
	if window <= 0 {
		window = time.Minute
	}
	now := l.now()
	start := windowStart(now, window)
	reset := start.Add(window)

	res := Result{Limit: limit, ResetAt: reset}

	count, err := l.store.IncrementWindow(ctx, identifier, route, start, window)
	if err != nil {
		log.Warn().Err(err).Str("identifier", identifier).Str("route", route).Msg("rate limit store unavailable, allowing request")
		res.Allowed = true
		res.Remaining = limit
		return res
	}

	res.Count = count
	res.Allowed = count <= limit
	if rem := limit - count; rem > 0 {
		res.Remaining = rem
	}
	if !res.Allowed {
		res.RetryAfter = retryAfter(reset.Sub(now))
	}
	return res
}

func windowStart(now time.Time, window time.Duration) time.Time {
	size := window.Nanoseconds()
	return time.Unix(0, now.UnixNano()/size*size).UTC()
}

// retryAfter rounds up to whole seconds, never below one.
func retryAfter(d time.Duration) time.Duration {
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
