// ABOUTME: Repository interface and data types for local conversation persistence
// ABOUTME: Defines Conversation, Message structs and the Repository interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// Role constants for message authors
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// StorageClass constants indicating which backing collaborator owns a conversation
const (
	StorageLocal  = "local"
	StorageRemote = "remote"
)

// Artifact describes a file delivered alongside a message
type Artifact struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Message represents a single message within a conversation.
// Content is mutable only while an assistant message is still streaming;
// once finalized the message is immutable.
type Message struct {
	ID        string
	Role      string // "user", "assistant", "system"
	Content   string
	Artifacts []Artifact
	CreatedAt time.Time
}

// Conversation represents a conversation and its append-only message log.
// Invariant: UpdatedAt >= CreatedAt; UpdatedAt is bumped on every message
// append or title change.
type Conversation struct {
	ID           string
	Title        string
	StorageClass string // "local" or "remote"
	RemoteID     string // Remote thread id, empty for local conversations
	Messages     []*Message
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository defines the interface for local conversation persistence.
// Implementations must cap the stored conversation count and evict the
// least-recently-updated conversation when the cap is exceeded on write.
type Repository interface {
	// SaveConversation inserts a conversation (with any seed messages).
	// Returns ErrDuplicateConversation if the id already exists.
	SaveConversation(ctx context.Context, conv *Conversation) error

	// GetConversation retrieves a conversation and its messages by id.
	// Returns ErrNotFound if it doesn't exist.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns all conversations, most recently updated
	// first, with their message logs loaded.
	ListConversations(ctx context.Context) ([]*Conversation, error)

	// AppendMessage appends a message to a conversation's log and bumps
	// the conversation's UpdatedAt. Returns ErrNotFound for unknown ids.
	AppendMessage(ctx context.Context, conversationID string, msg *Message) error

	// UpdateMessageContent replaces the content of an existing message.
	// Used for streaming assistant messages that finalize after appends.
	UpdateMessageContent(ctx context.Context, conversationID, messageID, content string) error

	// UpdateTitle replaces a conversation's title and bumps UpdatedAt.
	UpdateTitle(ctx context.Context, conversationID, title string) error

	// DeleteConversation removes a conversation and its messages.
	// Returns ErrNotFound for unknown ids.
	DeleteConversation(ctx context.Context, id string) error

	// Close releases any resources held by the repository
	Close() error
}
