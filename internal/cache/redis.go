package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the primary Store implementation. Counters and blacklist
// entries written here are visible to every server process sharing the
// same Redis, which keeps rate limiting and revocation cluster-wide.
type Redis struct {
	client redis.UniversalClient
	log    *slog.Logger
}

// NewRedis connects to the configured server and verifies reachability
// with a bounded ping. It returns an error instead of a half-working
// store so the caller can decide on the fallback.
func NewRedis(ctx context.Context, cfg Config, log *slog.Logger) (*Redis, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Redis{client: client, log: log}, nil
}

// NewRedisWithClient wraps an existing client. Used by tests.
func NewRedisWithClient(client redis.UniversalClient, log *slog.Logger) *Redis {
	return &Redis{client: client, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.warn("get", key, err)
		}
		return "", false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.warn("set", key, err)
		return false
	}
	return true
}

func (r *Redis) Delete(ctx context.Context, key string) bool {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.warn("del", key, err)
		return false
	}
	return true
}

func (r *Redis) Exists(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.warn("exists", key, err)
		return false
	}
	return n > 0
}

func (r *Redis) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, bool) {
	count, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		r.warn("incr", key, err)
		return 0, false
	}

	// First hit in the window creates the counter; give it its lifetime.
	if count == delta && ttl > 0 {
		if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
			r.warn("expire", key, err)
		}
	}
	return count, true
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) warn(op, key string, err error) {
	if r.log != nil {
		r.log.Warn("cache: redis operation failed", "op", op, "key", key, "err", err)
	}
}
