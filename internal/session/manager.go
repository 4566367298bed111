// ABOUTME: Hybrid local/cloud conversation manager with remote precedence
// ABOUTME: Routes reads and writes by storage class and degrades silently to local when offline

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/techtuber101/ASideMission/internal/remote"
	"github.com/techtuber101/ASideMission/internal/store"
)

// ThreadGateway is the remote operations the manager needs. Satisfied by
// *remote.Gateway.
type ThreadGateway interface {
	ListThreads(ctx context.Context) ([]*remote.Thread, error)
	CreateThread(ctx context.Context, name string) (string, error)
	GetMessages(ctx context.Context, threadID string) ([]*remote.ThreadMessage, error)
	PostMessage(ctx context.Context, threadID, msgType, content string) error
	DeleteThread(ctx context.Context, threadID string) error
	SyncThread(ctx context.Context, title string, messages []remote.SyncMessage) (string, error)
}

// Manager owns conversation state. It fronts a local repository and an
// optional remote gateway: remote-backed conversations mirror into the local
// store so listing and reads keep working offline, and every remote failure
// on the write path degrades to local-only rather than surfacing an error to
// the caller.
type Manager struct {
	repo     store.Repository
	gateway  ThreadGateway
	notifier *Notifier
	logger   *slog.Logger

	mu        sync.RWMutex
	streaming map[string]*assistantStream // conversationID -> in-flight assistant message
}

// assistantStream tracks one in-progress assistant message.
type assistantStream struct {
	messageID string
	content   string
}

// NewManager creates a conversation manager. gateway may be nil for
// local-only operation.
func NewManager(repo store.Repository, gateway ThreadGateway, notifier *Notifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewNotifier(logger)
	}
	return &Manager{
		repo:      repo,
		gateway:   gateway,
		notifier:  notifier,
		logger:    logger.With("component", "session"),
		streaming: make(map[string]*assistantStream),
	}
}

// Notifier returns the change notifier for UI subscriptions.
func (m *Manager) Notifier() *Notifier {
	return m.notifier
}

// ListConversations returns the merged conversation list, most recently
// updated first. Remote threads are fetched best-effort and mirrored into
// the local store; when a conversation exists in both places the remote
// copy wins. A remote failure degrades to the local list alone.
func (m *Manager) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	if m.gateway != nil {
		threads, err := m.gateway.ListThreads(ctx)
		if err != nil {
			m.logger.Debug("remote list unavailable, using local only", "error", err)
		} else {
			for _, th := range threads {
				m.mirrorThread(ctx, th)
			}
		}
	}

	convs, err := m.repo.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// mirrorThread upserts a remote thread into the local store so it stays
// listable offline.
func (m *Manager) mirrorThread(ctx context.Context, th *remote.Thread) {
	existing, err := m.repo.GetConversation(ctx, th.ThreadID)
	if err == nil {
		if existing.Title != th.Title() {
			if err := m.repo.UpdateTitle(ctx, th.ThreadID, th.Title()); err != nil {
				m.logger.Warn("failed to update mirrored title", "thread_id", th.ThreadID, "error", err)
			}
		}
		return
	}

	conv := &store.Conversation{
		ID:           th.ThreadID,
		Title:        th.Title(),
		StorageClass: store.StorageRemote,
		RemoteID:     th.ThreadID,
		CreatedAt:    th.CreatedAt,
		UpdatedAt:    th.UpdatedAt,
	}
	if err := m.repo.SaveConversation(ctx, conv); err != nil {
		m.logger.Warn("failed to mirror remote thread", "thread_id", th.ThreadID, "error", err)
	}
}

// CreateConversation creates a new conversation, remote-first when a gateway
// is available and local otherwise. The remote attempt failing is not an
// error: the conversation is created locally and the caller never sees the
// difference. firstMessage seeds the derived title and may be empty.
func (m *Manager) CreateConversation(ctx context.Context, firstMessage string) (*store.Conversation, error) {
	title := DeriveTitle(firstMessage)
	now := time.Now().UTC()

	if m.gateway != nil {
		threadID, err := m.gateway.CreateThread(ctx, title)
		if err == nil {
			conv := &store.Conversation{
				ID:           threadID,
				Title:        title,
				StorageClass: store.StorageRemote,
				RemoteID:     threadID,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := m.repo.SaveConversation(ctx, conv); err != nil {
				return nil, fmt.Errorf("mirroring new thread: %w", err)
			}
			m.notifier.Publish(Change{Kind: ChangeCreated, ConversationID: conv.ID, Title: title})
			return conv, nil
		}
		m.logger.Debug("remote create failed, falling back to local", "error", err)
	}

	conv := &store.Conversation{
		ID:           uuid.New().String(),
		Title:        title,
		StorageClass: store.StorageLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.repo.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating local conversation: %w", err)
	}
	m.notifier.Publish(Change{Kind: ChangeCreated, ConversationID: conv.ID, Title: title})
	return conv, nil
}

// GetConversation returns a conversation with its messages. Remote-backed
// conversations hydrate message history from the gateway best-effort; on
// failure the locally mirrored messages are returned instead.
func (m *Manager) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := m.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	if conv.StorageClass == store.StorageRemote && m.gateway != nil {
		if err := m.hydrateMessages(ctx, conv); err != nil {
			m.logger.Debug("remote hydration failed, using local mirror",
				"conversation_id", id, "error", err)
		}
	}
	return conv, nil
}

// hydrateMessages replaces locally mirrored messages with the remote
// history for any remote message ids not yet mirrored.
func (m *Manager) hydrateMessages(ctx context.Context, conv *store.Conversation) error {
	msgs, err := m.gateway.GetMessages(ctx, conv.RemoteID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(conv.Messages))
	for _, msg := range conv.Messages {
		seen[msg.ID] = true
	}

	for _, rm := range msgs {
		if seen[rm.MessageID] {
			continue
		}
		role := rm.Content.Role
		if role == "" {
			if rm.IsLLMMessage {
				role = store.RoleAssistant
			} else {
				role = store.RoleUser
			}
		}
		local := &store.Message{
			ID:        rm.MessageID,
			Role:      role,
			Content:   rm.Content.Content,
			CreatedAt: rm.CreatedAt,
		}
		if err := m.repo.AppendMessage(ctx, conv.ID, local); err != nil {
			return fmt.Errorf("mirroring remote message: %w", err)
		}
		conv.Messages = append(conv.Messages, local)
	}
	return nil
}

// AppendUserMessage appends a user message. The local append is the source
// of truth; for remote conversations the message is also posted to the
// backend, with failures logged rather than propagated. The first user
// message in a conversation recomputes the title.
func (m *Manager) AppendUserMessage(ctx context.Context, conversationID, content string) (*store.Message, error) {
	conv, err := m.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	firstUser := true
	for _, msg := range conv.Messages {
		if msg.Role == store.RoleUser {
			firstUser = false
			break
		}
	}

	msg := store.Message{
		ID:        uuid.New().String(),
		Role:      store.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.AppendMessage(ctx, conversationID, &msg); err != nil {
		return nil, fmt.Errorf("appending user message: %w", err)
	}
	m.notifier.Publish(Change{Kind: ChangeMessageAppended, ConversationID: conversationID, MessageID: msg.ID})

	if firstUser {
		title := DeriveTitle(content)
		if title != DefaultTitle && title != conv.Title {
			if err := m.repo.UpdateTitle(ctx, conversationID, title); err != nil {
				m.logger.Warn("failed to update derived title", "conversation_id", conversationID, "error", err)
			} else {
				m.notifier.Publish(Change{Kind: ChangeTitleChanged, ConversationID: conversationID, Title: title})
			}
		}
	}

	if conv.StorageClass == store.StorageRemote && m.gateway != nil {
		if err := m.gateway.PostMessage(ctx, conv.RemoteID, "user", content); err != nil {
			m.logger.Warn("failed to post message to backend",
				"conversation_id", conversationID, "error", err)
		}
	}
	return &msg, nil
}

// AppendSystemMessage appends a system message locally. System messages are
// client-side notices (errors, reconnect status) and never go to the backend.
func (m *Manager) AppendSystemMessage(ctx context.Context, conversationID, content string) error {
	msg := store.Message{
		ID:        uuid.New().String(),
		Role:      store.RoleSystem,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.AppendMessage(ctx, conversationID, &msg); err != nil {
		return fmt.Errorf("appending system message: %w", err)
	}
	m.notifier.Publish(Change{Kind: ChangeMessageAppended, ConversationID: conversationID, MessageID: msg.ID})
	return nil
}

// AppendArtifactMessage appends a finalized system message carrying
// delivered artifact references. Like other system messages it stays local.
func (m *Manager) AppendArtifactMessage(ctx context.Context, conversationID, content string, artifacts []store.Artifact) error {
	msg := store.Message{
		ID:        uuid.New().String(),
		Role:      store.RoleSystem,
		Content:   content,
		Artifacts: artifacts,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.AppendMessage(ctx, conversationID, &msg); err != nil {
		return fmt.Errorf("appending artifact message: %w", err)
	}
	m.notifier.Publish(Change{Kind: ChangeMessageAppended, ConversationID: conversationID, MessageID: msg.ID})
	return nil
}

// StartAssistantMessage begins an in-flight assistant message and returns
// its id. If a stream is already open for the conversation, the open
// message id is returned so continued tokens land in the same message.
func (m *Manager) StartAssistantMessage(ctx context.Context, conversationID string) (string, error) {
	m.mu.Lock()
	if current, ok := m.streaming[conversationID]; ok {
		m.mu.Unlock()
		return current.messageID, nil
	}
	stream := &assistantStream{messageID: uuid.New().String()}
	m.streaming[conversationID] = stream
	m.mu.Unlock()

	msg := store.Message{
		ID:        stream.messageID,
		Role:      store.RoleAssistant,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.AppendMessage(ctx, conversationID, &msg); err != nil {
		m.mu.Lock()
		delete(m.streaming, conversationID)
		m.mu.Unlock()
		return "", fmt.Errorf("starting assistant message: %w", err)
	}
	m.notifier.Publish(Change{Kind: ChangeMessageAppended, ConversationID: conversationID, MessageID: stream.messageID})
	return stream.messageID, nil
}

// AppendAssistantText appends streamed text to the in-flight assistant
// message, starting one if none is open. Content accumulates in memory and
// persists on each append so a crash loses at most the final token batch.
func (m *Manager) AppendAssistantText(ctx context.Context, conversationID, text string) (string, error) {
	msgID, err := m.StartAssistantMessage(ctx, conversationID)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	stream, ok := m.streaming[conversationID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("no assistant stream open for conversation %s", conversationID)
	}
	stream.content += text
	content := stream.content
	m.mu.Unlock()

	if err := m.repo.UpdateMessageContent(ctx, conversationID, msgID, content); err != nil {
		return "", fmt.Errorf("updating assistant message: %w", err)
	}
	m.notifier.Publish(Change{Kind: ChangeMessageUpdated, ConversationID: conversationID, MessageID: msgID})
	return msgID, nil
}

// FinalizeAssistantMessage closes the in-flight assistant message and
// returns its id, or empty if no stream was open. Remote conversations are
// not written back to the backend here: the backend persists its own
// assistant output and posting it again would duplicate it.
func (m *Manager) FinalizeAssistantMessage(ctx context.Context, conversationID string) (string, error) {
	m.mu.Lock()
	stream, ok := m.streaming[conversationID]
	if ok {
		delete(m.streaming, conversationID)
	}
	m.mu.Unlock()

	if !ok {
		return "", nil
	}

	if err := m.repo.UpdateMessageContent(ctx, conversationID, stream.messageID, stream.content); err != nil {
		return "", fmt.Errorf("finalizing assistant message: %w", err)
	}
	m.notifier.Publish(Change{Kind: ChangeMessageUpdated, ConversationID: conversationID, MessageID: stream.messageID})
	return stream.messageID, nil
}

// StreamingMessageID returns the in-flight assistant message id for a
// conversation, or empty when no stream is open.
func (m *Manager) StreamingMessageID(conversationID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if stream, ok := m.streaming[conversationID]; ok {
		return stream.messageID
	}
	return ""
}

// DeleteConversation removes a conversation from its backing store and
// reports whether anything was deleted. Remote-backed conversations delete
// the backend thread first; if that fails the local mirror stays so the
// user does not lose a conversation the backend still has.
func (m *Manager) DeleteConversation(ctx context.Context, id string) (bool, error) {
	conv, err := m.repo.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if conv.StorageClass == store.StorageRemote && m.gateway != nil {
		if err := m.gateway.DeleteThread(ctx, conv.RemoteID); err != nil {
			return false, fmt.Errorf("deleting backend thread: %w", err)
		}
	}

	if err := m.repo.DeleteConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	m.mu.Lock()
	delete(m.streaming, id)
	m.mu.Unlock()

	m.notifier.Publish(Change{Kind: ChangeDeleted, ConversationID: id})
	return true, nil
}

// MigrateLocalConversations uploads local-only conversations to the backend
// after the user authenticates. Each migrated conversation flips to remote
// storage under its new thread id. Failures skip the conversation and leave
// it local; the count of migrated conversations is returned.
func (m *Manager) MigrateLocalConversations(ctx context.Context) (int, error) {
	if m.gateway == nil {
		return 0, nil
	}

	convs, err := m.repo.ListConversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing conversations for migration: %w", err)
	}

	migrated := 0
	for _, summary := range convs {
		if summary.StorageClass != store.StorageLocal {
			continue
		}

		conv, err := m.repo.GetConversation(ctx, summary.ID)
		if err != nil {
			m.logger.Warn("skipping migration, load failed", "conversation_id", summary.ID, "error", err)
			continue
		}

		payload := make([]remote.SyncMessage, 0, len(conv.Messages))
		for _, msg := range conv.Messages {
			payload = append(payload, remote.SyncMessage{
				Role:      msg.Role,
				Type:      msg.Role,
				Content:   msg.Content,
				Timestamp: msg.CreatedAt.Format(time.RFC3339Nano),
			})
		}

		threadID, err := m.gateway.SyncThread(ctx, conv.Title, payload)
		if err != nil {
			m.logger.Warn("migration failed, conversation stays local",
				"conversation_id", conv.ID, "error", err)
			continue
		}

		// Re-home the conversation under its backend thread id.
		if err := m.repo.DeleteConversation(ctx, conv.ID); err != nil {
			m.logger.Warn("failed to remove local copy after migration",
				"conversation_id", conv.ID, "error", err)
			continue
		}
		conv.ID = threadID
		conv.RemoteID = threadID
		conv.StorageClass = store.StorageRemote
		if err := m.repo.SaveConversation(ctx, conv); err != nil {
			m.logger.Warn("failed to save migrated conversation",
				"conversation_id", conv.ID, "error", err)
			continue
		}

		migrated++
		m.logger.Info("migrated conversation to backend",
			"local_id", summary.ID,
			"thread_id", threadID,
			"messages", len(conv.Messages))
	}
	return migrated, nil
}
