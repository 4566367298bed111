// ABOUTME: In-memory fan-out notifier for conversation state changes
// ABOUTME: Publishes Change events to subscribers so the UI layer stays framework-agnostic

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllConversations subscribes to changes across every conversation.
	AllConversations = "*"
)

// ChangeKind identifies what mutated.
type ChangeKind string

const (
	ChangeCreated         ChangeKind = "created"
	ChangeDeleted         ChangeKind = "deleted"
	ChangeMessageAppended ChangeKind = "message_appended"
	ChangeMessageUpdated  ChangeKind = "message_updated"
	ChangeTitleChanged    ChangeKind = "title_changed"
)

// Change describes one conversation state mutation.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	MessageID      string // Set for message kinds
	Title          string // Set for ChangeTitleChanged and ChangeCreated
}

// Notifier provides in-memory pub/sub for conversation changes.
// Subscribers register for a conversation id (or AllConversations) and
// receive Change events as mutations land. This replaces implicit reactive
// re-render triggers with explicit notifications.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Change // convID -> subID -> ch
	logger      *slog.Logger
}

// NewNotifier creates a notifier. Pass nil logger for default.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		subscribers: make(map[string]map[string]chan Change),
		logger:      logger.With("component", "notifier"),
	}
}

// Subscribe registers a subscriber for changes on the given conversation id
// (or AllConversations). Returns a channel and a subscription id. The
// subscription is automatically cleaned up when ctx is cancelled.
func (n *Notifier) Subscribe(ctx context.Context, conversationID string) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	n.mu.Lock()
	if _, ok := n.subscribers[conversationID]; !ok {
		n.subscribers[conversationID] = make(map[string]chan Change)
	}
	n.subscribers[conversationID][subID] = ch
	n.mu.Unlock()

	n.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		n.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends a change to subscribers of its conversation id and to
// AllConversations subscribers. Non-blocking: changes are dropped for
// subscribers whose channels are full. The sends happen under the read
// lock so Unsubscribe cannot close a channel mid-send.
func (n *Notifier) Publish(change Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, key := range []string{change.ConversationID, AllConversations} {
		for _, ch := range n.subscribers[key] {
			select {
			case ch <- change:
				// Sent
			default:
				n.logger.Debug("dropped change for slow subscriber",
					"conversation_id", change.ConversationID,
					"kind", change.Kind)
			}
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (n *Notifier) Unsubscribe(conversationID, subID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, ok := n.subscribers[conversationID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(n.subscribers, conversationID)
	}
}

// Close shuts down the notifier and closes all subscriber channels.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for convID, subs := range n.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(n.subscribers, convID)
	}
}
