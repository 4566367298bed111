// ABOUTME: Wire-level event types for the streaming chat transport
// ABOUTME: One flat Event struct covers the JSON union; ParseEvent validates inbound frames

package stream

import (
	"encoding/json"
	"fmt"
)

// EventType identifies an inbound event on the streaming connection.
type EventType string

const (
	EventAck        EventType = "ack"
	EventText       EventType = "text"
	EventThinking   EventType = "thinking"
	EventPhase      EventType = "phase"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventDeliver    EventType = "deliver"
	EventError      EventType = "error"

	EventFileUploadSuccess   EventType = "file_upload_success"
	EventFileUploadError     EventType = "file_upload_error"
	EventFileDownloadSuccess EventType = "file_download_success"
	EventFileDownloadError   EventType = "file_download_error"
	EventListFilesSuccess    EventType = "list_files_success"
	EventListFilesError      EventType = "list_files_error"
)

// WireArtifact is a delivered artifact reference as it appears on the wire.
type WireArtifact struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Type string `json:"type,omitempty"`
}

// Event is one inbound frame. The JSON union is flattened into a single
// struct; which fields are populated depends on Type.
type Event struct {
	Type    EventType       `json:"type"`
	ID      string          `json:"id,omitempty"` // Correlation id for tool events
	Name    string          `json:"name,omitempty"`
	Content string          `json:"content,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Cached  bool            `json:"cached,omitempty"`

	Artifacts []WireArtifact `json:"artifacts,omitempty"`
	Summary   string         `json:"summary,omitempty"`

	Phase  string `json:"phase,omitempty"`
	Status string `json:"status,omitempty"`

	FileName    string          `json:"file_name,omitempty"`
	FilePath    string          `json:"file_path,omitempty"`
	SandboxPath string          `json:"sandbox_path,omitempty"`
	FolderPath  string          `json:"folder_path,omitempty"`
	Files       json.RawMessage `json:"files,omitempty"`
	Error       string          `json:"error,omitempty"`

	TS float64 `json:"ts,omitempty"`
}

// ParseEvent decodes one inbound frame. A frame that is not valid JSON or
// carries no type is a protocol error; the caller surfaces it without
// aborting ingestion.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event missing type")
	}
	return &ev, nil
}

// DedupeID returns the identity key for id-based duplicate suppression, or
// empty for events that carry no explicit id.
func (e *Event) DedupeID() string {
	if e.ID == "" {
		return ""
	}
	return string(e.Type) + ":" + e.ID
}

// HistoryEntry is one prior message in the outbound conversation history.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatMessage is the outbound user-message frame.
type chatMessage struct {
	Type                string         `json:"type"`
	Content             string         `json:"content"`
	ConversationHistory []HistoryEntry `json:"conversation_history"`
}

// fileUploadRequest asks the backend to store a base64-encoded file.
type fileUploadRequest struct {
	Type        string `json:"type"`
	FileName    string `json:"file_name"`
	FileContent string `json:"file_content"`
	FileSize    int64  `json:"file_size,omitempty"`
	FileType    string `json:"file_type,omitempty"`
}

// fileDownloadRequest asks the backend to return a file as base64.
type fileDownloadRequest struct {
	Type     string `json:"type"`
	FilePath string `json:"file_path"`
}

// listFilesRequest asks the backend for a directory listing.
type listFilesRequest struct {
	Type       string `json:"type"`
	FolderPath string `json:"folder_path,omitempty"`
}
