// ABOUTME: Tests for the time-windowed content coalescer.
// ABOUTME: Validates retransmission suppression scoped to the window with a fake clock.

package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a controllable time source for window tests.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCoalescer(window time.Duration) (*Coalescer, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := NewCoalescer(window)
	c.SetClock(clock.now)
	return c, clock
}

func TestCoalescer_FirstEventNotDuplicate(t *testing.T) {
	c, _ := newTestCoalescer(50 * time.Millisecond)
	assert.False(t, c.Duplicate("conv-1", "hello"))
}

func TestCoalescer_IdenticalWithinWindow(t *testing.T) {
	c, clock := newTestCoalescer(50 * time.Millisecond)

	assert.False(t, c.Duplicate("conv-1", "hello"))
	clock.advance(20 * time.Millisecond)
	assert.True(t, c.Duplicate("conv-1", "hello"))
}

func TestCoalescer_IdenticalAfterWindow(t *testing.T) {
	c, clock := newTestCoalescer(50 * time.Millisecond)

	assert.False(t, c.Duplicate("conv-1", "hello"))
	clock.advance(60 * time.Millisecond)

	// Past the window the same text is legitimate new content
	assert.False(t, c.Duplicate("conv-1", "hello"))
}

func TestCoalescer_SuppressedEventDoesNotExtendWindow(t *testing.T) {
	c, clock := newTestCoalescer(50 * time.Millisecond)

	assert.False(t, c.Duplicate("conv-1", "hello"))

	// Retransmission at +30ms is suppressed
	clock.advance(30 * time.Millisecond)
	assert.True(t, c.Duplicate("conv-1", "hello"))

	// +60ms from the processed event: window measured from the event that
	// was actually processed, so this is new content
	clock.advance(30 * time.Millisecond)
	assert.False(t, c.Duplicate("conv-1", "hello"))
}

func TestCoalescer_DistinctContentNeverSuppressed(t *testing.T) {
	c, clock := newTestCoalescer(50 * time.Millisecond)

	assert.False(t, c.Duplicate("conv-1", "foo"))
	clock.advance(time.Millisecond)
	assert.False(t, c.Duplicate("conv-1", "bar"))
	clock.advance(time.Millisecond)
	assert.False(t, c.Duplicate("conv-1", "foo"))
}

func TestCoalescer_KeysAreIndependent(t *testing.T) {
	c, clock := newTestCoalescer(50 * time.Millisecond)

	assert.False(t, c.Duplicate("conv-1", "hello"))
	clock.advance(time.Millisecond)

	// Same content under a different conversation is not a retransmission
	assert.False(t, c.Duplicate("conv-2", "hello"))
}

func TestCoalescer_Forget(t *testing.T) {
	c, clock := newTestCoalescer(50 * time.Millisecond)

	assert.False(t, c.Duplicate("conv-1", "hello"))
	c.Forget("conv-1")
	clock.advance(time.Millisecond)
	assert.False(t, c.Duplicate("conv-1", "hello"))
}
