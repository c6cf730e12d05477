package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is the in-process fallback used while Redis is unavailable.
type MemoryCache struct {
	entries sync.Map
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

func (r *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, ok := r.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := val.(memoryEntry)
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		r.entries.Delete(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (r *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	r.entries.Store(key, entry)
	return nil
}

func (r *MemoryCache) Delete(_ context.Context, key string) error {
	r.entries.Delete(key)
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (r *MemoryCache) Purge() int {
	now := r.now()
	removed := 0
	r.entries.Range(func(key, val any) bool {
		entry := val.(memoryEntry)
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			r.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
