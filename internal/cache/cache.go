// Package cache provides the shared key-value store used for rate
// counters, the issued-token registry and the revocation blacklist.
//
// All operations are best-effort: a broken caching layer degrades to
// "absent"/failure results instead of propagating errors, because every
// consumer can recover from a cold cache (counters restart, tokens still
// verify cryptographically).
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrUnavailable marks cache transport failures. It never crosses the
// Store boundary; implementations log it and report failure through the
// boolean returns instead.
var ErrUnavailable = errors.New("cache unavailable")

// Store is the cache contract shared by the rate limiter, the token
// service and the auth middleware.
//
// Get returns the value and whether the key was present. Set, Delete
// report whether the operation took effect. Increment adds delta to a
// counter, applying ttl when the counter is created, and returns the new
// value; ok is false when the backing store could not be reached.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, bool)
}

// Config selects and tunes the backing store.
type Config struct {
	Addr     string
	Password string
	DB       int

	// DialTimeout bounds the reachability probe at construction time as
	// well as every subsequent command.
	DialTimeout time.Duration

	// FallbackPath is the JSON snapshot location used when Redis is
	// unreachable at construction time.
	FallbackPath string
}

// New returns a Redis-backed store when the configured server answers a
// ping within the dial timeout, otherwise a process-local file store.
//
// The fallback trades cluster-wide consistency (rate limits and
// revocation become per-process) for availability. It is logged once at
// warn level and is a known trade-off, not an error.
func New(ctx context.Context, cfg Config, log *slog.Logger) Store {
	rs, err := NewRedis(ctx, cfg, log)
	if err == nil {
		return rs
	}

	log.Warn("cache: redis unreachable, falling back to local file store",
		"addr", cfg.Addr, "path", cfg.FallbackPath, "err", err)

	fs, ferr := NewFile(cfg.FallbackPath, log)
	if ferr != nil {
		// Last resort: an empty file store that never persists.
		log.Error("cache: file fallback unavailable, running in-memory only", "err", ferr)
		fs = newMemoryFile(log)
	}
	return fs
}
