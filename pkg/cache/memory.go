package cache

import (
	"context"
	"sync"
)

type memoryEntry struct {
	etag  string
	value []byte
}

// MemoryCache is a process-local cache keyed by string. It never evicts;
// callers that need bounded memory should use it behind a Tiered cache and
// call Reset between compilations.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
	}
}

// Get returns the stored value when key exists and the etag matches.
func (m *MemoryCache) Get(_ context.Context, key, etag string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || e.etag != etag {
		return nil, false, nil
	}

	// Copy so callers cannot mutate the cached bytes.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Store records value under key, replacing any prior entry.
func (m *MemoryCache) Store(_ context.Context, key, etag string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{etag: etag, value: stored}
	return nil
}

// Delete removes key if present.
func (m *MemoryCache) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Reset drops all entries.
func (m *MemoryCache) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
}

// Len returns the number of stored entries.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
