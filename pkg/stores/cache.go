package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

// Get returns a cached value when present and not expired.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	query := `
		SELECT value FROM cache_entries
		WHERE namespace = ? AND key = ?
		  AND (expires_at IS NULL OR expires_at > ?)
	`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, namespace, key, formatTime(s.now())).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	return value, true, nil
}

// Set stores a value for ttl. A non-positive ttl stores it without expiry.
func (s *SQLiteStore) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	query := `
		INSERT INTO cache_entries (namespace, key, value, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
	`

	now := s.now()
	var expiresAt *string
	if ttl > 0 {
		expiresAt = nullTime(now.Add(ttl))
	}

	if _, err := s.db.ExecContext(ctx, query, namespace, key, value, expiresAt, formatTime(now)); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Invalidate removes one key, or every key in the namespace when key is empty.
func (s *SQLiteStore) Invalidate(ctx context.Context, namespace, key string) error {
	var err error
	if key == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, namespace)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ? AND key = ?`, namespace, key)
	}
	if err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// ListCacheEntries lists live cache entries with optional namespace filter
func (s *SQLiteStore) ListCacheEntries(ctx context.Context, namespace *string, limit, offset int) ([]*CacheEntry, error) {
	query := `
		SELECT namespace, key, value, expires_at, created_at
		FROM cache_entries
		WHERE (? IS NULL OR namespace = ?)
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, namespace, namespace, formatTime(s.now()), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	entries := []*CacheEntry{}
	for rows.Next() {
		entry := &CacheEntry{}
		var expiresAt *string
		var createdAt string
		if err := rows.Scan(&entry.Namespace, &entry.Key, &entry.Value, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entry.ExpiresAt = parseNullTime(expiresAt)
		entry.CreatedAt = parseTime(createdAt)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache entries: %w", err)
	}

	return entries, nil
}

// PruneExpired deletes expired cache entries and returns how many were removed.
func (s *SQLiteStore) PruneExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`

	result, err := s.db.ExecContext(ctx, query, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// MemoryCache is an in-process engine.Cache with per-entry expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

var _ engine.Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the value when present and not expired.
func (c *MemoryCache) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[namespace][key]
	if !ok || (!entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt)) {
		return nil, false, nil
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set stores a copy of value for ttl. A non-positive ttl stores it without expiry.
func (c *MemoryCache) Set(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.entries[namespace]
	if !ok {
		ns = make(map[string]memoryEntry)
		c.entries[namespace] = ns
	}

	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	ns[key] = entry
	return nil
}

// Invalidate removes one key, or the whole namespace when key is empty.
func (c *MemoryCache) Invalidate(_ context.Context, namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key == "" {
		delete(c.entries, namespace)
		return nil
	}
	delete(c.entries[namespace], key)
	return nil
}

// PruneExpired drops expired entries and returns how many were removed.
func (c *MemoryCache) PruneExpired(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed int64
	for _, ns := range c.entries {
		for key, entry := range ns {
			if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
				delete(ns, key)
				removed++
			}
		}
	}
	return removed, nil
}
