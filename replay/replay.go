// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package replay implements a bounded replay cache: a fixed-capacity map
// of recently seen message ids with time-based eviction, used to reject
// duplicate control envelopes within their freshness window.
package replay

import (
	"sync"
	"time"
)

const (
	// DefaultCapacity bounds memory use regardless of traffic volume.
	DefaultCapacity = 100000
	// sweepThreshold triggers an eviction pass once the cache is this full.
	sweepThreshold = 0.9
)

type entry struct {
	seenAt time.Time
}

// Cache is a concurrent, capacity-bounded replay detector keyed by
// arbitrary message ids (envelopes key it by their message_id field).
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// New creates a replay cache with the default capacity and the given
// freshness window (how long an id is remembered after first being seen).
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries:  make(map[string]entry),
		capacity: DefaultCapacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// CheckAndInsert reports whether id has already been seen within the
// freshness window. If not, it records id as seen and returns false. This
// single atomic check-and-insert is the only entrypoint, since a
// check-then-insert pair would race two concurrent envelopes carrying the
// same id.
func (c *Cache) CheckAndInsert(id string) (isReplay bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[id]; ok {
		if now.Sub(e.seenAt) <= c.ttl {
			return true
		}
		// Stale entry past its own ttl: treat as unseen and refresh it.
	}

	if len(c.entries) >= int(float64(c.capacity)*sweepThreshold) {
		c.sweepLocked(now)
	}
	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	c.entries[id] = entry{seenAt: now}
	return false
}

// sweepLocked drops entries whose freshness window has elapsed. Must be
// called with mu held.
func (c *Cache) sweepLocked(now time.Time) {
	for id, e := range c.entries {
		if now.Sub(e.seenAt) > c.ttl {
			delete(c.entries, id)
		}
	}
}

// evictOldestLocked drops a single oldest entry when the cache is at
// capacity even after sweeping, to keep memory bounded under sustained
// legitimate traffic. Must be called with mu held.
func (c *Cache) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	first := true
	for id, e := range c.entries {
		if first || e.seenAt.Before(oldestAt) {
			oldestID, oldestAt, first = id, e.seenAt, false
		}
	}
	if !first {
		delete(c.entries, oldestID)
	}
}

// Len reports the number of tracked ids, for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
