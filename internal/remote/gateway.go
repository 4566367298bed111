// ABOUTME: HTTP gateway for the remote thread API (list, create, messages, delete, sync)
// ABOUTME: Thin request/response wrapper; every call carries a bearer token or fails with ErrNoSession

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/techtuber101/ASideMission/internal/auth"
)

// Thread is a remote conversation thread as returned by the API.
type Thread struct {
	ThreadID  string            `json:"thread_id"`
	ProjectID string            `json:"project_id"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Title returns the thread's display title from its metadata, or "New Chat".
func (t *Thread) Title() string {
	if title, ok := t.Metadata["title"]; ok && title != "" {
		return title
	}
	return "New Chat"
}

// ThreadMessage is a message record as returned by the messages endpoint.
// Content is a nested {role, content} object on the wire.
type ThreadMessage struct {
	MessageID    string         `json:"message_id"`
	ThreadID     string         `json:"thread_id"`
	Type         string         `json:"type"`
	IsLLMMessage bool           `json:"is_llm_message"`
	Content      MessageContent `json:"content"`
	CreatedAt    time.Time      `json:"created_at"`
}

// MessageContent is the role/content payload nested inside a ThreadMessage.
type MessageContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SyncMessage is one message in a local-to-cloud sync request.
type SyncMessage struct {
	Role      string `json:"role"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Gateway wraps the remote REST surface. All methods require an
// authenticated session; auth.ErrNoSession is returned otherwise so callers
// can take their local fallback path without ever issuing an
// unauthenticated request.
type Gateway struct {
	baseURL string
	tokens  auth.TokenSource
	client  *http.Client
	logger  *slog.Logger
}

// NewGateway creates a gateway for the given API base URL.
// Pass nil logger for the default.
func NewGateway(baseURL string, tokens auth.TokenSource, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With("component", "remote"),
	}
}

// SetHTTPClient overrides the HTTP client, used by tests.
func (g *Gateway) SetHTTPClient(client *http.Client) {
	g.client = client
}

// listThreadsResponse is the envelope returned by GET /threads.
type listThreadsResponse struct {
	Threads    []*Thread `json:"threads"`
	Pagination struct {
		Page  int `json:"page"`
		Limit int `json:"limit"`
		Total int `json:"total"`
		Pages int `json:"pages"`
	} `json:"pagination"`
}

// ListThreads fetches the authenticated user's threads.
func (g *Gateway) ListThreads(ctx context.Context) ([]*Thread, error) {
	var resp listThreadsResponse
	if err := g.doJSON(ctx, http.MethodGet, "/threads", nil, "", &resp); err != nil {
		return nil, err
	}

	g.logger.Debug("listed remote threads", "count", len(resp.Threads))
	return resp.Threads, nil
}

// createThreadResponse is the body returned by POST /threads.
type createThreadResponse struct {
	ThreadID  string `json:"thread_id"`
	ProjectID string `json:"project_id"`
}

// CreateThread creates a remote thread with the given display name.
// The name travels form-encoded, matching the API contract.
func (g *Gateway) CreateThread(ctx context.Context, name string) (string, error) {
	form := url.Values{}
	form.Set("name", name)

	var resp createThreadResponse
	err := g.doJSON(ctx, http.MethodPost, "/threads",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &resp)
	if err != nil {
		return "", err
	}
	if resp.ThreadID == "" {
		return "", fmt.Errorf("create thread: empty thread_id in response")
	}

	g.logger.Debug("created remote thread", "thread_id", resp.ThreadID, "name", name)
	return resp.ThreadID, nil
}

// getMessagesResponse is the envelope returned by GET /threads/{id}/messages.
type getMessagesResponse struct {
	Messages []*ThreadMessage `json:"messages"`
}

// GetMessages fetches all messages for a thread in chronological order.
func (g *Gateway) GetMessages(ctx context.Context, threadID string) ([]*ThreadMessage, error) {
	var resp getMessagesResponse
	path := fmt.Sprintf("/threads/%s/messages", url.PathEscape(threadID))
	if err := g.doJSON(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// postMessageRequest is the JSON body for POST /threads/{id}/messages.
type postMessageRequest struct {
	Type         string `json:"type"`
	Content      string `json:"content"`
	IsLLMMessage bool   `json:"is_llm_message"`
}

// PostMessage appends a message to a remote thread.
// msgType is "user" or "assistant" per the API contract.
func (g *Gateway) PostMessage(ctx context.Context, threadID, msgType, content string) error {
	body, err := json.Marshal(postMessageRequest{
		Type:         msgType,
		Content:      content,
		IsLLMMessage: true,
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	path := fmt.Sprintf("/threads/%s/messages", url.PathEscape(threadID))
	return g.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", nil)
}

// DeleteThread removes a remote thread.
func (g *Gateway) DeleteThread(ctx context.Context, threadID string) error {
	path := fmt.Sprintf("/threads/%s", url.PathEscape(threadID))
	return g.doJSON(ctx, http.MethodDelete, path, nil, "", nil)
}

// syncRequest is the JSON body for POST /threads/sync.
type syncRequest struct {
	Messages []SyncMessage `json:"messages"`
	Title    string        `json:"title,omitempty"`
}

// syncResponse is the body returned by POST /threads/sync.
type syncResponse struct {
	ThreadID       string `json:"thread_id"`
	ProjectID      string `json:"project_id"`
	SyncedMessages int    `json:"synced_messages"`
}

// SyncThread uploads a local conversation's messages as a new remote thread
// and returns the new thread id. Used when migrating a local conversation to
// cloud storage after the user authenticates.
func (g *Gateway) SyncThread(ctx context.Context, title string, messages []SyncMessage) (string, error) {
	body, err := json.Marshal(syncRequest{Messages: messages, Title: title})
	if err != nil {
		return "", fmt.Errorf("encoding sync request: %w", err)
	}

	var resp syncResponse
	err = g.doJSON(ctx, http.MethodPost, "/threads/sync", bytes.NewReader(body), "application/json", &resp)
	if err != nil {
		return "", err
	}
	if resp.ThreadID == "" {
		return "", fmt.Errorf("sync thread: empty thread_id in response")
	}

	g.logger.Debug("synced local conversation to remote thread",
		"thread_id", resp.ThreadID,
		"messages", resp.SyncedMessages)
	return resp.ThreadID, nil
}

// doJSON performs an authenticated request and decodes a JSON response into
// out (if non-nil). Requests without a session fail with auth.ErrNoSession
// before touching the network.
func (g *Gateway) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	token, err := g.tokens.Token()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a bounded amount of the error body for logging
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.logger.Debug("remote API error",
			"method", method,
			"path", path,
			"status", resp.StatusCode)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
