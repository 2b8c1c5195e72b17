// Package lru provides a small thread-safe cache with soft-limit
// eviction, used to keep recently patched chunk rasters decoded so a
// burst of edits to the same chunk skips a PNG decode per edit.
package lru

import "sync"

// Cache is a generic thread-safe cache. When the entry count exceeds
// the soft limit, the oldest quarter (by access time) is evicted.
// A softLimit of 0 means unlimited. Must not be copied after creation.
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*entry[V]
	softLimit int
	tick      int64
}

type entry[V any] struct {
	value V
	atime int64
}

// New creates a cache with the given soft limit.
func New[K comparable, V any](softLimit int) *Cache[K, V] {
	return &Cache[K, V]{
		entries:   make(map[K]*entry[V]),
		softLimit: softLimit,
	}
}

// Get retrieves a value, refreshing its access time.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.tick++
	e.atime = c.tick
	return e.value, true
}

// Set stores a value, evicting oldest entries if over the soft limit.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	c.entries[key] = &entry[V]{value: value, atime: c.tick}

	if c.softLimit > 0 && len(c.entries) > c.softLimit {
		c.evictLocked()
	}
}

// Delete removes a key if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops the least recently used quarter of the entries.
// Called with c.mu held.
func (c *Cache[K, V]) evictLocked() {
	drop := len(c.entries) / 4
	if drop < 1 {
		drop = 1
	}
	for ; drop > 0; drop-- {
		var oldestKey K
		oldest := int64(-1)
		for k, e := range c.entries {
			if oldest < 0 || e.atime < oldest {
				oldest = e.atime
				oldestKey = k
			}
		}
		delete(c.entries, oldestKey)
	}
}
