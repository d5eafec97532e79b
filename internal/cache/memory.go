package cache

import (
	"sync"
	"time"
)

// MemoryCache is a bounded in-process content cache for hot entries.
// It is owned by the retrieval service and injected, never shared as
// package state. Disk remains the authority; this only skips disk I/O
// for repeated reads.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memEntry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

type memEntry struct {
	data    []byte
	touched time.Time
}

// NewMemoryCache returns a cache holding at most maxEntries values,
// each valid for ttl after its last Put.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]memEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached content, or nil when absent or expired.
func (m *MemoryCache) Get(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil
	}

	if m.now().Sub(e.touched) >= m.ttl {
		delete(m.entries, key)
		return nil
	}

	return e.data
}

// Put stores content, evicting the least recently stored entry when
// the cache is full.
func (m *MemoryCache) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok && len(m.entries) >= m.maxEntries {
		var (
			oldestKey string
			oldestAt  time.Time
		)

		for k, e := range m.entries {
			if oldestKey == "" || e.touched.Before(oldestAt) {
				oldestKey, oldestAt = k, e.touched
			}
		}

		delete(m.entries, oldestKey)
	}

	m.entries[key] = memEntry{data: data, touched: m.now()}
}

// Clear drops all entries.
func (m *MemoryCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]memEntry)
}

// Len reports the current entry count.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}
