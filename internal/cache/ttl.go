package cache

import (
	"sync"
	"time"
)

// TTL is a process-wide cache with per-entry expiry. Entries are invalidated
// only by TTL; readers may receive a stale value while a caller rebuilds it,
// which callers opting into Stale explicitly accept.
type TTL[K comparable, V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[K]entry[V]
	now     func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTL constructs a cache whose entries expire after ttl.
func NewTTL[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &TTL[K, V]{
		ttl:     ttl,
		entries: make(map[K]entry[V]),
		now:     time.Now,
	}
}

// Get returns a fresh entry. Expired entries report a miss.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Stale returns the stored value even when expired. The second result reports
// whether the entry is still within its validity window.
func (c *TTL[K, V]) Stale(key K) (V, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false, false
	}
	return e.value, !c.now().After(e.expiresAt), true
}

// Set stores a value with a fresh validity window.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Len reports the number of stored entries, expired ones included.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Prune removes expired entries.
func (c *TTL[K, V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
