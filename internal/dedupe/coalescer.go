// ABOUTME: Time-windowed coalescer suppressing byte-identical retransmissions.
// ABOUTME: Orthogonal to the id cache; applies only when events carry no explicit id.

package dedupe

import (
	"sync"
	"time"
)

// Coalescer suppresses an event whose content is byte-identical to the
// immediately preceding event under the same key AND arrives within the
// coalescing window. This targets transport or upstream retries that
// re-deliver the same token burst; the time bound keeps suppression scoped
// to genuine retransmissions so two distinct tokens that happen to render
// the same text are never both discarded once the window has elapsed.
//
// The rule is deliberately separate from Cache: the id rule is strict, the
// content rule is a heuristic, and each is testable on its own.
type Coalescer struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	last   map[string]coalesceEntry
}

// coalesceEntry remembers the previous content seen under a key.
type coalesceEntry struct {
	content string
	at      time.Time
}

// NewCoalescer creates a coalescer with the given suppression window.
func NewCoalescer(window time.Duration) *Coalescer {
	return &Coalescer{
		window: window,
		now:    time.Now,
		last:   make(map[string]coalesceEntry),
	}
}

// SetClock overrides the time source, used by tests.
func (c *Coalescer) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Duplicate reports whether content under key is a retransmission of the
// immediately preceding processed content. Suppressed events do not move
// the comparison point: the window is measured from the last event that was
// actually processed, so re-delivery after the window elapses is treated as
// new content even if earlier copies were suppressed in between.
func (c *Coalescer) Duplicate(key, content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	prev, seen := c.last[key]
	if seen && prev.content == content && now.Sub(prev.at) <= c.window {
		return true
	}

	c.last[key] = coalesceEntry{content: content, at: now}
	return false
}

// Forget drops the stored state for a key, e.g. when its connection closes.
func (c *Coalescer) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
}
