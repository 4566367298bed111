// ABOUTME: Transport abstraction and the real WebSocket dialer behind it
// ABOUTME: One connection per conversation id, bearer token carried as a query parameter

package stream

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"

	"github.com/techtuber101/ASideMission/internal/auth"
)

// readLimit caps a single inbound frame. File downloads arrive base64
// encoded, so frames can be large.
const readLimit = 16 << 20

// Conn is a single live transport connection.
type Conn interface {
	// Read blocks for the next inbound frame.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one outbound frame.
	Write(ctx context.Context, data []byte) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens a connection for a conversation id.
type Dialer interface {
	Dial(ctx context.Context, conversationID string) (Conn, error)
}

// WebSocketDialer dials the backend chat socket at
// {base}/ws/chat/{conversationID}, appending the bearer token as a query
// parameter when a session exists. An absent token dials anonymously.
type WebSocketDialer struct {
	baseURL string
	tokens  auth.TokenSource
}

// NewWebSocketDialer creates a dialer for the given ws:// or wss:// base URL.
func NewWebSocketDialer(baseURL string, tokens auth.TokenSource) *WebSocketDialer {
	return &WebSocketDialer{baseURL: baseURL, tokens: tokens}
}

func (d *WebSocketDialer) Dial(ctx context.Context, conversationID string) (Conn, error) {
	endpoint := d.baseURL + "/ws/chat/" + url.PathEscape(conversationID)
	if d.tokens != nil {
		if token, err := d.tokens.Token(); err == nil && token != "" {
			endpoint += "?token=" + url.QueryEscape(token)
		}
	}

	c, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing chat socket: %w", err)
	}
	c.SetReadLimit(readLimit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "client closing")
}
