// ABOUTME: Bounded, ordered tab list with a single active pointer and a pinned draft tab
// ABOUTME: Pure state machine; emits evicted tabs so callers can tear down their connections

package tabs

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// MaxTabs is the default cap on open conversation tabs. The draft tab does
// not count against it.
const MaxTabs = 10

// Ordering controls where new tabs insert and which end evicts.
type Ordering string

const (
	// OrderNewestFirst pins the draft tab at the front, inserts new tabs
	// right behind it, and evicts from the back.
	OrderNewestFirst Ordering = "newest-first"

	// OrderOldestFirst pins the draft tab at the end, inserts new tabs
	// right before it, and evicts from the front.
	OrderOldestFirst Ordering = "oldest-first"
)

// Tab is one entry in the tab strip. Draft marks the always-present
// placeholder that has not yet produced a real conversation.
type Tab struct {
	ID             string
	ConversationID string
	Title          string
	Active         bool
	Draft          bool
}

// Controller maintains the ordered, capped tab list. Invariants held at all
// times: exactly one tab is active, exactly one tab is the draft, and the
// tab count never exceeds the cap plus the draft.
type Controller struct {
	mu       sync.Mutex
	ordering Ordering
	maxTabs  int
	tabs     []*Tab
	logger   *slog.Logger
}

// NewController creates a controller holding only the draft tab, which
// starts active. maxTabs <= 0 falls back to MaxTabs; an unknown ordering
// falls back to OrderNewestFirst.
func NewController(maxTabs int, ordering Ordering, logger *slog.Logger) *Controller {
	if maxTabs <= 0 {
		maxTabs = MaxTabs
	}
	if ordering != OrderNewestFirst && ordering != OrderOldestFirst {
		ordering = OrderNewestFirst
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		ordering: ordering,
		maxTabs:  maxTabs,
		logger:   logger.With("component", "tabs"),
	}
	c.tabs = []*Tab{c.newDraft(true)}
	return c
}

func (c *Controller) newDraft(active bool) *Tab {
	return &Tab{
		ID:     uuid.New().String(),
		Title:  "New Chat",
		Active: active,
		Draft:  true,
	}
}

// Open activates the tab for the given conversation, creating one if
// needed. A newly created tab becomes active and may push the list over
// the cap, in which case the tab at the eviction end is removed and
// returned so the caller can tear down anything attached to it.
func (c *Controller) Open(conversationID, title string) (opened Tab, evicted *Tab) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tab := c.findConversationLocked(conversationID); tab != nil {
		c.activateLocked(tab.ID)
		return *tab, nil
	}

	tab := &Tab{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Title:          title,
	}
	c.insertLocked(tab)
	c.activateLocked(tab.ID)
	evicted = c.evictOverCapLocked()

	c.logger.Debug("opened tab",
		"tab_id", tab.ID,
		"conversation_id", conversationID,
		"evicted", evicted != nil)
	return *tab, evicted
}

// insertLocked places a new real tab at the insertion end for the
// configured ordering: just behind the front-pinned draft for newest-first,
// just before the end-pinned draft for oldest-first.
func (c *Controller) insertLocked(tab *Tab) {
	switch c.ordering {
	case OrderOldestFirst:
		// Draft sits last; insert before it.
		i := len(c.tabs) - 1
		c.tabs = append(c.tabs, nil)
		copy(c.tabs[i+1:], c.tabs[i:])
		c.tabs[i] = tab
	default:
		// Draft sits first; insert behind it.
		c.tabs = append(c.tabs, nil)
		copy(c.tabs[2:], c.tabs[1:])
		c.tabs[1] = tab
	}
}

// evictOverCapLocked removes the tab at the eviction end when the real tab
// count exceeds the cap. The draft and the active tab are never victims.
func (c *Controller) evictOverCapLocked() *Tab {
	real := 0
	for _, t := range c.tabs {
		if !t.Draft {
			real++
		}
	}
	if real <= c.maxTabs {
		return nil
	}

	indexes := make([]int, 0, len(c.tabs))
	for i := range c.tabs {
		indexes = append(indexes, i)
	}
	if c.ordering == OrderOldestFirst {
		// Oldest tabs sit at the front.
		for _, i := range indexes {
			if t := c.tabs[i]; !t.Draft && !t.Active {
				return c.removeAtLocked(i)
			}
		}
	} else {
		// Oldest tabs sit at the back.
		for j := len(indexes) - 1; j >= 0; j-- {
			if t := c.tabs[indexes[j]]; !t.Draft && !t.Active {
				return c.removeAtLocked(indexes[j])
			}
		}
	}
	return nil
}

func (c *Controller) removeAtLocked(i int) *Tab {
	tab := c.tabs[i]
	c.tabs = append(c.tabs[:i], c.tabs[i+1:]...)
	return tab
}

// Close removes a tab and reports whether anything changed. Closing the
// last remaining tab or the draft tab is a no-op; if the closed tab was
// active, activation transfers to the nearest remaining neighbor.
func (c *Controller) Close(tabID string) (closed *Tab, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.tabs) <= 1 {
		return nil, false
	}

	idx := -1
	for i, t := range c.tabs {
		if t.ID == tabID {
			idx = i
			break
		}
	}
	if idx < 0 || c.tabs[idx].Draft {
		return nil, false
	}

	tab := c.removeAtLocked(idx)
	if tab.Active {
		// Nearest neighbor: the tab that slid into this slot, else the
		// previous one. The draft is always present as a fallback.
		next := idx
		if next >= len(c.tabs) {
			next = len(c.tabs) - 1
		}
		c.activateLocked(c.tabs[next].ID)
	}

	c.logger.Debug("closed tab", "tab_id", tabID, "conversation_id", tab.ConversationID)
	return tab, true
}

// CloseConversation closes the tab bound to a conversation, if any.
func (c *Controller) CloseConversation(conversationID string) (closed *Tab, ok bool) {
	c.mu.Lock()
	tab := c.findConversationLocked(conversationID)
	c.mu.Unlock()
	if tab == nil {
		return nil, false
	}
	return c.Close(tab.ID)
}

// Activate makes the given tab the single active one. Returns false if the
// tab does not exist.
func (c *Controller) Activate(tabID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateLocked(tabID)
}

func (c *Controller) activateLocked(tabID string) bool {
	found := false
	for _, t := range c.tabs {
		if t.ID == tabID {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	for _, t := range c.tabs {
		t.Active = t.ID == tabID
	}
	return true
}

// PromoteDraft binds the current draft tab to a real conversation and
// inserts a fresh draft in the same pinned position, so observers never see
// a state without a draft. The promoted tab stays active.
func (c *Controller) PromoteDraft(conversationID, title string) (promoted Tab, evicted *Tab) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var draft *Tab
	for _, t := range c.tabs {
		if t.Draft {
			draft = t
			break
		}
	}

	draft.Draft = false
	draft.ConversationID = conversationID
	draft.Title = title

	fresh := c.newDraft(false)
	if c.ordering == OrderOldestFirst {
		c.tabs = append(c.tabs, fresh)
	} else {
		c.tabs = append([]*Tab{fresh}, c.tabs...)
	}

	c.activateLocked(draft.ID)
	evicted = c.evictOverCapLocked()

	c.logger.Debug("promoted draft tab",
		"tab_id", draft.ID,
		"conversation_id", conversationID)
	return *draft, evicted
}

// SetTitle updates the title of the tab bound to a conversation. Used when
// the first user message retitles a conversation.
func (c *Controller) SetTitle(conversationID, title string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	tab := c.findConversationLocked(conversationID)
	if tab == nil {
		return false
	}
	tab.Title = title
	return true
}

// Active returns the currently active tab.
func (c *Controller) Active() Tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tabs {
		if t.Active {
			return *t
		}
	}
	// Unreachable while the invariants hold; repair rather than panic.
	c.tabs[0].Active = true
	return *c.tabs[0]
}

// Tabs returns a snapshot of the tab list in display order.
func (c *Controller) Tabs() []Tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tab, len(c.tabs))
	for i, t := range c.tabs {
		out[i] = *t
	}
	return out
}

// FindByConversation returns the tab bound to a conversation, if any.
func (c *Controller) FindByConversation(conversationID string) (Tab, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tab := c.findConversationLocked(conversationID); tab != nil {
		return *tab, true
	}
	return Tab{}, false
}

func (c *Controller) findConversationLocked(conversationID string) *Tab {
	if conversationID == "" {
		return nil
	}
	for _, t := range c.tabs {
		if !t.Draft && t.ConversationID == conversationID {
			return t
		}
	}
	return nil
}
