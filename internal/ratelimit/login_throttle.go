package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/strobelt/aegis/internal/cache"
)

const (
	// MaxLoginAttempts failed logins inside LoginWindow block further
	// attempts from the same client.
	MaxLoginAttempts = 5
	// LoginWindow is the rolling lifetime of the failed-attempt counter.
	LoginWindow = 15 * time.Minute
)

// LoginThrottle counts failed authentication attempts per client. It is
// deliberately separate from the request limiter: past the cap, callers
// see a rate-limit failure instead of "invalid credentials", so brute
// force and enumeration stall on the same opaque answer.
type LoginThrottle struct {
	store cache.Store
	log   *slog.Logger
}

// NewLoginThrottle builds a throttle over the given store.
func NewLoginThrottle(store cache.Store, log *slog.Logger) *LoginThrottle {
	return &LoginThrottle{store: store, log: log}
}

// Blocked reports whether the client has exhausted its attempt budget.
// Checked before credentials are, so the 6th attempt fails rate-limited
// even with the correct password.
func (t *LoginThrottle) Blocked(ctx context.Context, client string) bool {
	val, ok := t.store.Get(ctx, loginKey(client))
	if !ok {
		return false
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false
	}
	return count >= MaxLoginAttempts
}

// Fail records one failed attempt. The counter expires on its own; a
// quiet client is forgiven after the window.
func (t *LoginThrottle) Fail(ctx context.Context, client string) {
	t.store.Increment(ctx, loginKey(client), 1, LoginWindow)
}

// Clear resets the counter after a successful login.
func (t *LoginThrottle) Clear(ctx context.Context, client string) {
	t.store.Delete(ctx, loginKey(client))
}

func loginKey(client string) string {
	return "login_attempts:" + client
}
