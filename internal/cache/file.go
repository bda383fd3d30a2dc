package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

type fileEntry struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds, 0 = no expiry
}

// File is the degraded Store used when Redis is unreachable. Entries are
// scoped to a single process and persisted as a JSON snapshot so
// counters survive a restart. Atomicity of Increment is emulated with an
// exclusive lock around the read-modify-write.
type File struct {
	mu      sync.Mutex
	path    string // empty means in-memory only
	entries map[string]fileEntry
	log     *slog.Logger
	now     func() time.Time
}

// NewFile loads (or creates) the snapshot at path.
func NewFile(path string, log *slog.Logger) (*File, error) {
	f := &File{
		path:    path,
		entries: make(map[string]fileEntry),
		log:     log,
		now:     time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if uerr := json.Unmarshal(data, &f.entries); uerr != nil {
			// Corrupt snapshot: start empty rather than fail.
			if log != nil {
				log.Warn("cache: discarding corrupt snapshot", "path", path, "err", uerr)
			}
			f.entries = make(map[string]fileEntry)
		}
	case os.IsNotExist(err):
		// fresh store
	default:
		return nil, err
	}

	return f, nil
}

func newMemoryFile(log *slog.Logger) *File {
	return &File{entries: make(map[string]fileEntry), log: log, now: time.Now}
}

func (f *File) Get(_ context.Context, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[key]
	if !ok {
		return "", false
	}
	if f.expired(e) {
		delete(f.entries, key)
		return "", false
	}
	return e.Value, true
}

func (f *File) Set(_ context.Context, key, value string, ttl time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries[key] = fileEntry{Value: value, ExpiresAt: f.deadline(ttl)}
	f.persistLocked()
	return true
}

func (f *File) Delete(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.entries, key)
	f.persistLocked()
	return true
}

func (f *File) Exists(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[key]
	if !ok {
		return false
	}
	if f.expired(e) {
		delete(f.entries, key)
		return false
	}
	return true
}

func (f *File) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	e, ok := f.entries[key]
	if ok && !f.expired(e) {
		if parsed, perr := strconv.ParseInt(e.Value, 10, 64); perr == nil {
			count = parsed
		}
		count += delta
		e.Value = strconv.FormatInt(count, 10)
		f.entries[key] = e
	} else {
		count = delta
		f.entries[key] = fileEntry{Value: strconv.FormatInt(count, 10), ExpiresAt: f.deadline(ttl)}
	}
	f.persistLocked()
	return count, true
}

func (f *File) expired(e fileEntry) bool {
	return e.ExpiresAt > 0 && f.now().Unix() >= e.ExpiresAt
}

func (f *File) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return f.now().Add(ttl).Unix()
}

// persistLocked sweeps expired entries and rewrites the snapshot.
// Callers must hold f.mu.
func (f *File) persistLocked() {
	for k, e := range f.entries {
		if f.expired(e) {
			delete(f.entries, k)
		}
	}
	if f.path == "" {
		return
	}

	data, err := json.Marshal(f.entries)
	if err != nil {
		return
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		if f.log != nil {
			f.log.Warn("cache: snapshot write failed", "path", f.path, "err", err)
		}
		return
	}
	if err := os.Rename(tmp, f.path); err != nil && f.log != nil {
		f.log.Warn("cache: snapshot rename failed", "path", f.path, "err", err)
	}
}
