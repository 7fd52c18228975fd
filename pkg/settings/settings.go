// Package settings implements the versioned key/value settings store.
//
// Every write bumps a monotonic version counter stored alongside the
// values. Consumers read through a TTL cache that is invalidated whenever
// the observed version differs, which makes reads monotonic: once a
// consumer has seen version V it never serves values older than V.
package settings

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/majoor-app/majoor/pkg/errcode"
	"github.com/majoor-app/majoor/pkg/storage"
)

// VersionKey is the reserved key holding the monotonic version counter.
const VersionKey = "__settings_version"

// Well-known setting keys.
const (
	KeyOutputDirOverride  = "output_directory_override"
	KeySafeMode           = "security.safe_mode"
	KeyAllowWrite         = "security.allow_write"
	KeyAllowDelete        = "security.allow_delete"
	KeyAllowRename        = "security.allow_rename"
	KeyAllowOpenInFolder  = "security.allow_open_in_folder"
	KeyAllowResetIndex    = "security.allow_reset_index"
	KeyProbeBackend       = "metadata.probe_backend"
	KeyMetadataFallback   = "metadata.fallback_enabled"
	KeySidecarSyncEnabled = "metadata.sidecar_sync"
)

// Store reads and writes settings through the storage engine.
type Store struct {
	engine *storage.Engine
	ttl    time.Duration

	mu        sync.Mutex
	cache     map[string]string
	cachedVer int64
	cachedAt  time.Time
}

// NewStore creates a settings store. ttl <= 0 selects the 10s default.
func NewStore(engine *storage.Engine, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Store{engine: engine, ttl: ttl}
}

// Version returns the current settings version, 0 when never written.
func (s *Store) Version(ctx context.Context) (int64, error) {
	rows, err := s.engine.Query(ctx, "SELECT value FROM settings WHERE key = ?", VersionKey)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	v, _ := strconv.ParseInt(rows[0].String("value"), 10, 64)
	return v, nil
}

// Get returns the value for key, consulting the TTL cache. The second
// return reports whether the key exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if key == VersionKey {
		return "", false, errcode.New(errcode.InvalidInput, "reserved key")
	}
	cache, err := s.snapshot(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := cache[key]
	return v, ok, nil
}

// GetBool reads a boolean setting with a default for missing keys.
func (s *Store) GetBool(ctx context.Context, key string, def bool) bool {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// Set writes one key and bumps the version, atomically.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" || key == VersionKey {
		return errcode.New(errcode.InvalidInput, "invalid settings key")
	}
	err := s.engine.Transaction(ctx, storage.TxImmediate, func(tx *storage.Tx) error {
		if _, err := tx.Execute(
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			key, value); err != nil {
			return err
		}
		_, err := tx.Execute(
			`INSERT INTO settings (key, value, updated_at) VALUES (?, '1', CURRENT_TIMESTAMP)
			 ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(settings.value AS INTEGER) + 1 AS TEXT), updated_at = CURRENT_TIMESTAMP`,
			VersionKey)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// All returns every setting except the version counter.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	cache, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cache))
	for k, v := range cache {
		out[k] = v
	}
	return out, nil
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// snapshot returns the cached settings map, refreshing from the engine
// when the TTL expired or the persisted version moved.
func (s *Store) snapshot(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	fresh := s.cache != nil && time.Since(s.cachedAt) < s.ttl
	cached := s.cache
	cachedVer := s.cachedVer
	s.mu.Unlock()

	if fresh {
		return cached, nil
	}

	ver, err := s.Version(ctx)
	if err != nil {
		return nil, err
	}
	if cached != nil && ver == cachedVer {
		// Unchanged; just extend the TTL window.
		s.mu.Lock()
		s.cachedAt = time.Now()
		s.mu.Unlock()
		return cached, nil
	}

	rows, err := s.engine.Query(ctx, "SELECT key, value FROM settings WHERE key != ?", VersionKey)
	if err != nil {
		return nil, err
	}
	next := make(map[string]string, len(rows))
	for _, r := range rows {
		next[r.String("key")] = r.String("value")
	}

	s.mu.Lock()
	// Never regress: if another goroutine already cached a newer
	// version, keep it.
	if s.cache == nil || ver >= s.cachedVer {
		s.cache = next
		s.cachedVer = ver
		s.cachedAt = time.Now()
	}
	out := s.cache
	s.mu.Unlock()
	return out, nil
}
