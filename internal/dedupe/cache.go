// ABOUTME: TTL cache of recently handled WhatsApp message IDs
// ABOUTME: The router uses it to drop messages the network re-delivers after reconnects

// Package dedupe suppresses duplicate delivery of inbound messages within a
// time window. WhatsApp re-sends offline and recent history messages when a
// session reconnects; without this every restart would replay conversations
// into the chat engine.
package dedupe

import (
	"sync"
	"time"
)

// Cache is a thread-safe, size-bounded TTL set of message IDs.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache that forgets IDs after ttl and holds at most maxSize
// entries. A background goroutine sweeps expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen atomically reports whether id was already handled within the TTL and
// marks it as handled if not. Returns true for duplicates.
func (c *Cache) Seen(id string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[id]; ok && now.Sub(at) < c.ttl {
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.seen[id] = now
	return false
}

// evictOldestLocked drops the entry with the oldest timestamp. Must be
// called with mu held.
func (c *Cache) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, at := range c.seen {
		if oldestID == "" || at.Before(oldestAt) {
			oldestID = id
			oldestAt = at
		}
	}
	if oldestID != "" {
		delete(c.seen, oldestID)
	}
}

// sweep periodically removes expired entries until Close.
func (c *Cache) sweep() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for id, at := range c.seen {
				if now.Sub(at) >= c.ttl {
					delete(c.seen, id)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}
