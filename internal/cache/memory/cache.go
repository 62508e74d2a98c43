package memory

import (
	"container/list"
	"sync"
	"time"
)

type Config struct {
	// MaxEntries <= 0 means unbounded.
	MaxEntries int
	// TTL <= 0 means entries never expire; they live as long as the cache.
	TTL time.Duration
}

type entry[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// Cache is a threadsafe LRU map with an optional per-entry TTL. Set replaces
// the stored value; values are never merged.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	ll         *list.List
	items      map[K]*list.Element
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	onEvict    func(K, V)
}

func New[K comparable, V any](cfg Config) *Cache[K, V] {
	return &Cache[K, V]{
		ll:         list.New(),
		items:      make(map[K]*list.Element),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		now:        time.Now,
	}
}

// OnEvict registers a callback for entries dropped by the size bound or TTL.
// It runs with the cache lock held and must not call back into the cache.
func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := ele.Value.(*entry[K, V])
	if c.expiredLocked(ent) {
		c.removeLocked(ele, true)
		return zero, false
	}
	c.ll.MoveToFront(ele)
	return ent.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if ele, ok := c.items[key]; ok {
		ent := ele.Value.(*entry[K, V])
		ent.value = value
		ent.storedAt = now
		c.ll.MoveToFront(ele)
		return
	}
	c.items[key] = c.ll.PushFront(&entry[K, V]{key: key, value: value, storedAt: now})
	for c.maxEntries > 0 && c.ll.Len() > c.maxEntries {
		c.removeLocked(c.ll.Back(), true)
	}
}

func (c *Cache[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ele, ok := c.items[key]; ok {
		c.removeLocked(ele, false)
	}
}

// Len counts stored entries, including expired ones not yet collected.
func (c *Cache[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache[K, V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll = list.New()
	c.items = make(map[K]*list.Element)
}

func (c *Cache[K, V]) expiredLocked(ent *entry[K, V]) bool {
	return c.ttl > 0 && c.now().Sub(ent.storedAt) >= c.ttl
}

func (c *Cache[K, V]) removeLocked(ele *list.Element, evicted bool) {
	if ele == nil {
		return
	}
	c.ll.Remove(ele)
	ent := ele.Value.(*entry[K, V])
	delete(c.items, ent.key)
	if evicted && c.onEvict != nil {
		c.onEvict(ent.key, ent.value)
	}
}
