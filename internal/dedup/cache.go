// Package dedup holds the process-local duplicate cache.
//
// The cache only remembers what this process has seen since it started. It is
// lost on cold start and is not shared between instances, so it must always be
// backed by the coordination store.
package dedup

import (
	"container/list"
	"sync"
)

// DefaultCapacity bounds the number of remembered fingerprints.
const DefaultCapacity = 1000

// Cache is an insertion-ordered set of fingerprints. When an insert would
// exceed capacity the oldest-inserted half is dropped in one batch.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewCache returns an empty cache. capacity <= 0 selects DefaultCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Seen reports whether token was recorded and not since forgotten or evicted.
func (c *Cache) Seen(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[token]
	return ok
}

// Record marks token as handled. Recording an existing token is a no-op and
// does not refresh its position.
func (c *Cache) Record(token string) {
	c.TryRecord(token)
}

// TryRecord records token and reports whether it was absent. It lets a
// caller check and claim in one step.
func (c *Cache) TryRecord(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[token]; ok {
		return false
	}
	if c.order.Len()+1 > c.capacity {
		c.evictOldestHalf()
	}
	c.index[token] = c.order.PushBack(token)
	return true
}

// Forget removes token so a retry is not suppressed.
func (c *Cache) Forget(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[token]; ok {
		c.order.Remove(el)
		delete(c.index, token)
	}
}

// Len returns the number of remembered tokens.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// evictOldestHalf drops the first ceil(n/2) entries. Caller holds mu.
func (c *Cache) evictOldestHalf() {
	n := (c.order.Len() + 1) / 2
	for i := 0; i < n; i++ {
		el := c.order.Front()
		if el == nil {
			return
		}
		c.order.Remove(el)
		delete(c.index, el.Value.(string))
	}
}
