// Package secrets resolves named secret bundles through a fixed fallback
// chain: remote secrets store, then environment variable, then default.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// ErrUnavailable is returned when a required key cannot be satisfied by
// any tier.
var ErrUnavailable = errors.New("secret unavailable")

// Spec declares how a single key of a bundle resolves: the environment
// variable consulted when the remote store misses, an optional default,
// and whether resolution must fail when every tier misses.
type Spec struct {
	Env      string
	Default  string
	Required bool
}

// Bundle is a resolved, read-only mapping of secret keys to values.
// Optional keys that no tier satisfied are absent.
type Bundle map[string]string

// Source reads a raw secret mapping from the remote store.
type Source interface {
	Read(ctx context.Context, path string) (map[string]string, error)
}

// Resolver applies the tiered fallback chain and memoizes each bundle
// for the process lifetime, so the remote store is queried at most once
// per path. Memoization is write-once; a duplicate resolution racing to
// the same value is harmless.
type Resolver struct {
	source Source // nil disables the remote tier
	log    *slog.Logger

	mu      sync.RWMutex
	bundles map[string]Bundle
}

// NewResolver builds a resolver over the given remote source. A nil
// source skips straight to the environment tier.
func NewResolver(source Source, log *slog.Logger) *Resolver {
	return &Resolver{
		source:  source,
		log:     log,
		bundles: make(map[string]Bundle),
	}
}

// Resolve returns the bundle at path, applying per-key specs. It fails
// only when a required key is absent from every tier. Repeated calls for
// the same path return the memoized bundle and are side-effect-free.
func (r *Resolver) Resolve(ctx context.Context, path string, keys map[string]Spec) (Bundle, error) {
	r.mu.RLock()
	cached, ok := r.bundles[path]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	remote := r.readRemote(ctx, path)

	bundle := make(Bundle, len(keys))
	for key, spec := range keys {
		if val, ok := remote[key]; ok && val != "" {
			bundle[key] = val
			continue
		}
		if spec.Env != "" {
			if val := os.Getenv(spec.Env); val != "" {
				if r.source != nil {
					r.log.Warn("secrets: falling back to environment", "path", path, "key", key)
				}
				bundle[key] = val
				continue
			}
		}
		if spec.Default != "" {
			bundle[key] = spec.Default
			continue
		}
		if spec.Required {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnavailable, path, key)
		}
	}

	r.mu.Lock()
	if existing, ok := r.bundles[path]; ok {
		bundle = existing
	} else {
		r.bundles[path] = bundle
	}
	r.mu.Unlock()

	return bundle, nil
}

func (r *Resolver) readRemote(ctx context.Context, path string) map[string]string {
	if r.source == nil {
		return nil
	}
	remote, err := r.source.Read(ctx, path)
	if err != nil {
		// Never log values; the key names and failure are enough.
		r.log.Warn("secrets: remote store unavailable", "path", path, "err", err)
		return nil
	}
	return remote
}
