// ABOUTME: In-memory implementation of the Repository interface for tests
// ABOUTME: Mirrors SQLite semantics including capacity eviction and sentinel errors

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository implements Repository with in-memory maps.
// It mirrors the SQLite implementation's semantics (capacity eviction,
// sentinel errors) so tests exercise the same behavior without a database.
type MemoryRepository struct {
	mu      sync.RWMutex
	convs   map[string]*Conversation
	maxConv int
}

// NewMemoryRepository creates an empty in-memory repository.
// maxConversations <= 0 disables eviction.
func NewMemoryRepository(maxConversations int) *MemoryRepository {
	return &MemoryRepository{
		convs:   make(map[string]*Conversation),
		maxConv: maxConversations,
	}
}

// SaveConversation inserts a conversation, evicting least-recently-updated
// conversations past the cap.
func (m *MemoryRepository) SaveConversation(_ context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.convs[conv.ID]; exists {
		return ErrDuplicateConversation
	}
	m.convs[conv.ID] = cloneConversation(conv)

	if m.maxConv > 0 && len(m.convs) > m.maxConv {
		ids := make([]string, 0, len(m.convs))
		for id := range m.convs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return m.convs[ids[i]].UpdatedAt.Before(m.convs[ids[j]].UpdatedAt)
		})
		for _, id := range ids[:len(m.convs)-m.maxConv] {
			delete(m.convs, id)
		}
	}
	return nil
}

// GetConversation returns a copy of the stored conversation.
func (m *MemoryRepository) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// ListConversations returns all conversations, most recently updated first.
func (m *MemoryRepository) ListConversations(_ context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	convs := make([]*Conversation, 0, len(m.convs))
	for _, conv := range m.convs {
		convs = append(convs, cloneConversation(conv))
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// AppendMessage appends to the conversation's log and bumps UpdatedAt.
func (m *MemoryRepository) AppendMessage(_ context.Context, conversationID string, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	msgCopy := *msg
	conv.Messages = append(conv.Messages, &msgCopy)
	conv.UpdatedAt = time.Now()
	return nil
}

// UpdateMessageContent replaces a stored message's content.
func (m *MemoryRepository) UpdateMessageContent(_ context.Context, conversationID, messageID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	for _, msg := range conv.Messages {
		if msg.ID == messageID {
			msg.Content = content
			return nil
		}
	}
	return ErrNotFound
}

// UpdateTitle replaces the title and bumps UpdatedAt.
func (m *MemoryRepository) UpdateTitle(_ context.Context, conversationID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return nil
}

// DeleteConversation removes a conversation.
func (m *MemoryRepository) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convs[id]; !ok {
		return ErrNotFound
	}
	delete(m.convs, id)
	return nil
}

// Close is a no-op for the in-memory repository.
func (m *MemoryRepository) Close() error {
	return nil
}

// cloneConversation deep-copies a conversation so callers cannot mutate
// repository state through returned pointers.
func cloneConversation(conv *Conversation) *Conversation {
	c := *conv
	c.Messages = make([]*Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		msgCopy := *msg
		if len(msg.Artifacts) > 0 {
			msgCopy.Artifacts = append([]Artifact(nil), msg.Artifacts...)
		}
		c.Messages[i] = &msgCopy
	}
	return &c
}
