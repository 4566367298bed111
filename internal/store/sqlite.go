// ABOUTME: SQLite implementation of the Repository interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with schema creation and capacity eviction

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements the Repository interface using SQLite
type SQLiteRepository struct {
	db      *sql.DB
	maxConv int
	logger  *slog.Logger
}

// NewSQLiteRepository creates a new SQLite repository at the given path.
// The schema is automatically created if it doesn't exist. Parent
// directories are created if needed. maxConversations caps the stored
// conversation count; writes past the cap evict the least-recently-updated
// conversation. A maxConversations <= 0 disables eviction.
func NewSQLiteRepository(path string, maxConversations int) (*SQLiteRepository, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteRepository{
		db:      db,
		maxConv: maxConversations,
		logger:  logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite repository initialized", "path", path, "max_conversations", maxConversations)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteRepository) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			title         TEXT NOT NULL,
			storage_class TEXT NOT NULL,
			remote_id     TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (storage_class IN ('local', 'remote'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			artifacts_json  TEXT,
			created_at      TEXT NOT NULL,

			PRIMARY KEY (conversation_id, id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
			CHECK (role IN ('user', 'assistant', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
			ON messages(conversation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteRepository) Close() error {
	s.logger.Info("closing SQLite repository")
	return s.db.Close()
}

// SaveConversation inserts a conversation with any seed messages.
// Returns ErrDuplicateConversation if the id already exists. If the stored
// conversation count exceeds the cap the least-recently-updated
// conversations are evicted.
func (s *SQLiteRepository) SaveConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, storage_class, remote_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.Title,
		conv.StorageClass,
		nullString(conv.RemoteID),
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		conv.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for i, msg := range conv.Messages {
		if err := insertMessage(ctx, tx, conv.ID, i, msg); err != nil {
			return err
		}
	}

	if err := s.evictOverCapLocked(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"storage_class", conv.StorageClass,
		"title", conv.Title)
	return nil
}

// evictOverCapLocked deletes the least-recently-updated conversations once
// the count exceeds the cap. Must run inside the write transaction so the
// cap holds atomically with the insert that breached it.
func (s *SQLiteRepository) evictOverCapLocked(ctx context.Context, tx *sql.Tx) error {
	if s.maxConv <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		return fmt.Errorf("counting conversations: %w", err)
	}
	if count <= s.maxConv {
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations ORDER BY updated_at ASC LIMIT ?
		)
	`, count-s.maxConv)
	if err != nil {
		return fmt.Errorf("evicting conversations: %w", err)
	}

	evicted, _ := res.RowsAffected()
	s.logger.Debug("evicted conversations over capacity", "evicted", evicted, "cap", s.maxConv)
	return nil
}

// GetConversation retrieves a conversation and its message log by id.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, storage_class, remote_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, err
	}

	msgs, err := s.loadMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

// ListConversations returns all conversations, most recently updated first,
// with their message logs loaded.
func (s *SQLiteRepository) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, storage_class, remote_id, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	for _, conv := range convs {
		msgs, err := s.loadMessages(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		conv.Messages = msgs
	}

	return convs, nil
}

// AppendMessage appends a message to the conversation's log and bumps
// UpdatedAt. Returns ErrNotFound for unknown conversation ids.
func (s *SQLiteRepository) AppendMessage(ctx context.Context, conversationID string, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}

	var nextSeq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("computing message sequence: %w", err)
	}

	if err := insertMessage(ctx, tx, conversationID, nextSeq, msg); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), conversationID)
	if err != nil {
		return fmt.Errorf("bumping conversation updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"role", msg.Role)
	return nil
}

// UpdateMessageContent replaces the content of an existing message.
func (s *SQLiteRepository) UpdateMessageContent(ctx context.Context, conversationID, messageID, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE conversation_id = ? AND id = ?`,
		content, conversationID, messageID)
	if err != nil {
		return fmt.Errorf("updating message content: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTitle replaces a conversation's title and bumps UpdatedAt.
func (s *SQLiteRepository) UpdateTitle(ctx context.Context, conversationID, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC().Format(time.RFC3339Nano), conversationID)
	if err != nil {
		return fmt.Errorf("updating title: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes a conversation and its messages.
// Returns ErrNotFound for unknown ids.
func (s *SQLiteRepository) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// loadMessages loads a conversation's messages in append order.
func (s *SQLiteRepository) loadMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, artifacts_json, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var artifactsJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &artifactsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		if artifactsJSON.Valid && artifactsJSON.String != "" {
			if err := json.Unmarshal([]byte(artifactsJSON.String), &msg.Artifacts); err != nil {
				return nil, fmt.Errorf("parsing artifacts: %w", err)
			}
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// insertMessage inserts one message row at the given sequence position.
func insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, seq int, msg *Message) error {
	var artifactsJSON sql.NullString
	if len(msg.Artifacts) > 0 {
		data, err := json.Marshal(msg.Artifacts)
		if err != nil {
			return fmt.Errorf("encoding artifacts: %w", err)
		}
		artifactsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, role, content, artifacts_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		conversationID,
		seq,
		msg.Role,
		msg.Content,
		artifactsJSON,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanConversation.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanConversation scans a conversation row (without messages).
func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var remoteID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&conv.ID, &conv.Title, &conv.StorageClass, &remoteID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	if remoteID.Valid {
		conv.RemoteID = remoteID.String
	}
	conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString converts an empty string to a NULL column value.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
