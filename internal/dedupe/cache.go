// ABOUTME: Thread-safe TTL cache for deduplicating inbound stream events by id.
// ABOUTME: Guards the ingestion pipeline against redelivered events that carry an explicit id.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry tracks when a key was marked and where it sits in the
// insertion-order list.
type cacheEntry struct {
	markedAt time.Time
	element  *list.Element
}

// Cache is a TTL-based, size-limited record of processed event ids. A key
// that is still present and unexpired has been fully processed and must be
// discarded. Insertion order is kept in a doubly-linked list so eviction of
// the oldest key is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest key at the front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewCache creates a dedupe cache with the given TTL and maximum size. A
// background goroutine sweeps expired entries until Close is called.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// CheckAndMark atomically reports whether the key was already seen, marking
// it when it was not. Returns true for a duplicate, false for a key that is
// new (or expired) and now marked. The single critical section rules out
// check-then-mark races between concurrent deliveries.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if entry, ok := c.seen[key]; ok {
		if now.Sub(entry.markedAt) < c.ttl {
			return true
		}
		// Expired: re-mark with a fresh TTL.
		entry.markedAt = now
		c.order.MoveToBack(entry.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &cacheEntry{
		markedAt: now,
		element:  c.order.PushBack(key),
	}
	return false
}

// evictOldest drops the front of the insertion-order list. Must be called
// with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// sweepLoop periodically removes expired entries until Close.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.markedAt) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
