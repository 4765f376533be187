// file: internal/cache/cache.go
// version: 2.0.0
// guid: a1b2c3d4-e5f6-7a8b-9c0d-1e2f3a4b5c6d

package cache

import (
	"strings"
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time // zero means no expiry
}

// Cache is a generic cache safe for concurrent use. When capacity is
// positive it holds at most capacity entries and evicts the oldest
// inserted entry first. Overwriting a key keeps its original position.
type Cache[T any] struct {
	mu         sync.RWMutex
	items      map[string]entry[T]
	order      []string
	capacity   int
	defaultTTL time.Duration
	onEvict    func(key string, value T)
}

// New creates a cache. capacity <= 0 means unbounded, defaultTTL <= 0
// means entries never expire.
func New[T any](capacity int, defaultTTL time.Duration) *Cache[T] {
	return &Cache[T]{
		items:      make(map[string]entry[T]),
		capacity:   capacity,
		defaultTTL: defaultTTL,
	}
}

// OnEvict registers a callback run after an entry is evicted for capacity.
func (c *Cache[T]) OnEvict(fn func(key string, value T)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get retrieves a value if it exists and hasn't expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores a value with the default TTL.
func (c *Cache[T]) Set(key string, value T) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a specific TTL.
func (c *Cache[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	e := entry[T]{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	type evicted struct {
		key   string
		value T
	}
	var out []evicted

	c.mu.Lock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	for c.capacity > 0 && len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		out = append(out, evicted{oldest, c.items[oldest].value})
		delete(c.items, oldest)
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if onEvict != nil {
		for _, ev := range out {
			onEvict(ev.key, ev.value)
		}
	}
}

// Invalidate removes a single key.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	c.remove(key)
	c.mu.Unlock()
}

// InvalidatePrefix removes every key starting with prefix and returns how
// many were removed.
func (c *Cache[T]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, key := range append([]string(nil), c.order...) {
		if strings.HasPrefix(key, prefix) {
			c.remove(key)
			n++
		}
	}
	return n
}

// InvalidateAll removes all entries.
func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	c.items = make(map[string]entry[T])
	c.order = nil
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns the stored keys, oldest first.
func (c *Cache[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

func (c *Cache[T]) remove(key string) {
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
