// Package cache provides the two-tier in-memory cache for decision-graph
// retrieval: an event-invalidated query tier with TTL and a version-keyed
// embedding tier. Both tiers are LRU-bounded.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of one cache tier.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time // zero means no expiry
}

// LRU is a mutex-guarded least-recently-used cache with optional per-entry
// TTL. Get promotes the key to most-recently-used; expired entries miss and
// are removed on access.
type LRU[V any] struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List               // front = most recently used
	items   map[string]*list.Element // element value is *entry[V]

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewLRU creates a cache holding at most maxSize entries. maxSize below 1 is
// treated as 1.
func NewLRU[V any](maxSize int) *LRU[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRU[V]{
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element, maxSize),
	}
}

// Get returns the value for key and promotes it. Expired entries are removed
// and count as misses.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeLocked(el)
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Put stores a value with no expiry.
func (c *LRU[V]) Put(key string, value V) {
	c.PutTTL(key, value, 0)
}

// PutTTL stores a value that expires after ttl. ttl <= 0 means no expiry.
func (c *LRU[V]) PutTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = el

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}
}

// Invalidate removes one key. Removing an absent key is a no-op.
func (c *LRU[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// Clear removes every entry. Hit/miss/eviction counters are preserved.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.items)
}

// Len returns the current entry count, including not-yet-collected expired
// entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats snapshots the tier's counters.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.order.Len(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *LRU[V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[V])
	c.order.Remove(el)
	delete(c.items, e.key)
}
