// Package cache provides a small TTL cache for rendered resource payloads.
package cache

import (
	"sync"
	"time"
)

// entry wraps a cached payload with expiry and insertion order tracking.
type entry struct {
	payload   []byte
	expiry    time.Time
	insertIdx int64
}

// ResourceCache caches rendered resource content keyed by identifier, so
// repeated reads of the same context datum skip the backend round-trip.
// Thread-safe with sync.RWMutex.
type ResourceCache struct {
	mu         sync.RWMutex
	items      map[string]entry
	ttl        time.Duration
	maxEntries int
	nextIdx    int64
}

// New creates a ResourceCache with the given TTL and max entry count.
func New(ttl time.Duration, maxEntries int) *ResourceCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &ResourceCache{
		items:      make(map[string]entry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Get returns a cached payload if found and not expired.
func (c *ResourceCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(e.expiry) {
		c.mu.Lock()
		if e2, ok2 := c.items[key]; ok2 && time.Now().After(e2.expiry) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.payload, true
}

// Set stores a payload. Evicts the oldest entry if at capacity.
func (c *ResourceCache) Set(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry{
		payload:   payload,
		expiry:    time.Now().Add(c.ttl),
		insertIdx: c.nextIdx,
	}
	c.nextIdx++

	if _, exists := c.items[key]; exists {
		c.items[key] = e
		return
	}

	if len(c.items) >= c.maxEntries {
		c.evictOldest()
	}

	c.items[key] = e
}

// Clear drops every entry. Called on explicit registry refresh.
func (c *ResourceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry)
}

// Len returns the number of live entries, expired or not.
func (c *ResourceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictOldest removes the entry with the lowest insertIdx. Caller holds mu.
func (c *ResourceCache) evictOldest() {
	var oldestKey string
	var oldestIdx int64 = -1

	for key, e := range c.items {
		if oldestIdx == -1 || e.insertIdx < oldestIdx {
			oldestIdx = e.insertIdx
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
