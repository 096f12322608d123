// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

// Package authcache bounds the rate of store reads for "is this identity
// authenticated" checks. The cache is never the source of truth: a true
// entry may only be written after a state-machine transition into the
// authenticated state, and a miss means "re-derive from the live session",
// never "ask the store".
package authcache

import (
	"container/list"
	"sync"
	"time"
)

// entry holds one cached authentication status.
type entry struct {
	key           string
	authenticated bool
	expiresAt     time.Time
}

// Cache is a size-bounded TTL cache with least-recently-used eviction.
// Eviction and expiry can only cause a fallback to re-deriving status from
// the live session, never a false "authenticated".
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	lru      *list.List
	now      func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source. Tests use this for deterministic
// expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a Cache holding at most capacity entries, each valid for ttl.
func New(capacity int, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached status for key. ok is false on a miss, including
// entries that have passively expired; expired entries are dropped here.
// Uses a full lock because MoveToFront mutates the LRU list.
func (c *Cache) Get(key string) (authenticated, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		return false, false
	}
	e := elem.Value.(*entry)
	if !e.expiresAt.After(c.now()) {
		c.lru.Remove(elem)
		delete(c.items, key)
		return false, false
	}
	c.lru.MoveToFront(elem)
	return e.authenticated, true
}

// Put stores the status for key. A true status may only follow a successful
// transition into the authenticated state; the caller owns that contract.
func (c *Cache) Put(key string, authenticated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)

	if elem, exists := c.items[key]; exists {
		c.lru.MoveToFront(elem)
		e := elem.Value.(*entry)
		e.authenticated = authenticated
		e.expiresAt = expires
		return
	}

	elem := c.lru.PushFront(&entry{key: key, authenticated: authenticated, expiresAt: expires})
	c.items[key] = elem

	// Safety valve against unbounded growth from connect churn.
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

// Invalidate drops the entry for key. Called on logout, lock, and
// credential change.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.lru.Remove(elem)
		delete(c.items, key)
	}
}

// Len returns the current number of entries, including not-yet-swept
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
