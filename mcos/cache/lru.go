// Package cache provides a small generic LRU cache with TTL, used as a
// read-through layer in front of durable stores.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU implements an LRU cache with per-entry TTL.
type LRU[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]*entry[K, V]
	order      *list.List
	capacity   int
	defaultTTL time.Duration
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	element   *list.Element
}

// NewLRU creates a cache holding at most capacity entries, each living for
// defaultTTL unless overridden on Set.
func NewLRU[K comparable, V any](capacity int, defaultTTL time.Duration) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1024
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LRU[K, V]{
		entries:    make(map[K]*entry[K, V]),
		order:      list.New(),
		capacity:   capacity,
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a value; expired entries are removed on access.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.remove(e)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(e.element)
	return e.value, true
}

// Set stores a value. A non-positive ttl uses the default.
func (c *LRU[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*entry[K, V]))
	}

	e := &entry[K, V]{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
}

// Delete removes a key if present.
func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.remove(e)
	}
}

// Len returns the number of resident entries, including not-yet-collected
// expired ones.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops all entries.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[K, V])
	c.order.Init()
}

func (c *LRU[K, V]) remove(e *entry[K, V]) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}
