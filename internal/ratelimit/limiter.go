// Package ratelimit implements the fixed-window request counter and the
// stricter failed-login throttle, both backed by the shared cache store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/strobelt/aegis/internal/cache"
)

const (
	// Window is the fixed counting window.
	Window = 60 * time.Second
	// counterTTL outlives the window slightly so a counter cannot
	// expire exactly at the boundary and produce a stale read.
	counterTTL = 70 * time.Second
)

// Result is the outcome of one admission check, carrying everything the
// middleware needs for the X-RateLimit response headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     int64 // unix seconds, start of the next window
}

// Limiter counts requests per (client, window) bucket. Buckets are
// clock-aligned: floor(now/60s) picks the bucket, so the first request
// of a new minute always starts a fresh count.
type Limiter struct {
	store cache.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewLimiter builds a limiter over the given store.
func NewLimiter(store cache.Store, log *slog.Logger) *Limiter {
	return &Limiter{store: store, log: log, now: time.Now}
}

// Allow admits or rejects one request from client under the given limit.
// The scope keys independent budgets (the login route carries its own).
// When the store is unreachable the limiter fails open: availability
// over strictness, the degradation is logged by the cache layer.
func (l *Limiter) Allow(ctx context.Context, scope, client string, limit int) Result {
	now := l.now()
	window := now.Unix() / int64(Window/time.Second)
	reset := (window + 1) * int64(Window/time.Second)

	key := fmt.Sprintf("%s:%s:%d", scope, client, window)
	count, ok := l.store.Increment(ctx, key, 1, counterTTL)
	if !ok {
		return Result{Allowed: true, Limit: limit, Remaining: limit - 1, Reset: reset}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}
}
