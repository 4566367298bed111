// ABOUTME: Per-conversation streaming session: connect, reconnect, and turn inbound events into log mutations
// ABOUTME: Aggregates text tokens with an idle-finalize debounce and suppresses duplicate deliveries

package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/techtuber101/ASideMission/internal/dedupe"
	"github.com/techtuber101/ASideMission/internal/store"
)

// Default timing parameters. Each can be overridden via Options.
const (
	DefaultIdleFinalize     = 200 * time.Millisecond
	DefaultCoalesceWindow   = 50 * time.Millisecond
	DefaultReconnectBackoff = time.Second
	DefaultMaxReconnects    = 5

	dedupeTTL       = 5 * time.Minute
	dedupeMaxSize   = 4096
	fileEventBuffer = 16
	finalizeTimeout = 5 * time.Second
)

// ConnState is the connection lifecycle state of a session.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateClosed       ConnState = "closed"
)

// Sink is where ingested events land. Satisfied by *session.Manager.
type Sink interface {
	AppendAssistantText(ctx context.Context, conversationID, text string) (string, error)
	FinalizeAssistantMessage(ctx context.Context, conversationID string) (string, error)
	AppendSystemMessage(ctx context.Context, conversationID, content string) error
	AppendArtifactMessage(ctx context.Context, conversationID, content string, artifacts []store.Artifact) error
}

// Options tunes session timing. Zero values take the defaults above.
type Options struct {
	IdleFinalize     time.Duration
	CoalesceWindow   time.Duration
	ReconnectBackoff time.Duration
	MaxReconnects    int
}

func (o Options) withDefaults() Options {
	if o.IdleFinalize <= 0 {
		o.IdleFinalize = DefaultIdleFinalize
	}
	if o.CoalesceWindow <= 0 {
		o.CoalesceWindow = DefaultCoalesceWindow
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = DefaultReconnectBackoff
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = DefaultMaxReconnects
	}
	return o
}

// FileEvent is a file-transfer outcome surfaced on the side channel.
type FileEvent struct {
	Type  EventType
	Name  string
	Path  string
	Data  []byte
	Files json.RawMessage
	Err   string
}

// Ingestor owns at most one live Session per conversation id.
type Ingestor struct {
	dialer Dialer
	sink   Sink
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewIngestor creates an ingestor. Pass nil logger for the default.
func NewIngestor(dialer Dialer, sink Sink, opts Options, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		dialer:   dialer,
		sink:     sink,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "stream"),
		sessions: make(map[string]*Session),
	}
}

// Open returns the live session for a conversation, starting one if none
// exists. A prior session that has already reached StateClosed is torn down
// and replaced, so at most one live connection exists per conversation.
func (i *Ingestor) Open(conversationID string) *Session {
	i.mu.Lock()
	// Re-check after every re-acquire: a concurrent Open may have inserted
	// a live session while the lock was released for the teardown.
	for {
		s, ok := i.sessions[conversationID]
		if !ok {
			break
		}
		if s.State() != StateClosed {
			i.mu.Unlock()
			return s
		}
		delete(i.sessions, conversationID)
		i.mu.Unlock()
		s.Close()
		i.mu.Lock()
	}

	s := newSession(conversationID, i.dialer, i.sink, i.opts, i.logger)
	i.sessions[conversationID] = s
	i.mu.Unlock()
	return s
}

// Get returns the session for a conversation without opening one.
func (i *Ingestor) Get(conversationID string) (*Session, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.sessions[conversationID]
	return s, ok
}

// Close tears down the session for a conversation. The teardown is
// synchronous: when Close returns, no goroutine for this session is still
// mutating the conversation.
func (i *Ingestor) Close(conversationID string) {
	i.mu.Lock()
	s, ok := i.sessions[conversationID]
	delete(i.sessions, conversationID)
	i.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll tears down every live session.
func (i *Ingestor) CloseAll() {
	i.mu.Lock()
	sessions := make([]*Session, 0, len(i.sessions))
	for id, s := range i.sessions {
		sessions = append(sessions, s)
		delete(i.sessions, id)
	}
	i.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// Session is one conversation's live stream. Inbound events mutate the
// conversation log through the Sink; tool activity and file transfers go to
// side channels that are never persisted.
type Session struct {
	conversationID string
	dialer         Dialer
	sink           Sink
	opts           Options
	logger         *slog.Logger

	ids       *dedupe.Cache
	coalescer *dedupe.Coalescer
	tools     *ToolRegistry

	mu        sync.Mutex
	state     ConnState
	conn      Conn
	waiting   bool
	thinking  string
	turnOpen  bool
	pending   []byte
	shutdown  bool
	idleTimer *time.Timer
	idleGen   uint64

	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
	fileEvents chan FileEvent
}

func newSession(conversationID string, dialer Dialer, sink Sink, opts Options, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conversationID: conversationID,
		dialer:         dialer,
		sink:           sink,
		opts:           opts,
		logger:         logger.With("conversation_id", conversationID),
		ids:            dedupe.NewCache(dedupeTTL, dedupeMaxSize),
		coalescer:      dedupe.NewCoalescer(opts.CoalesceWindow),
		tools:          NewToolRegistry(),
		state:          StateDisconnected,
		cancel:         cancel,
		done:           make(chan struct{}),
		fileEvents:     make(chan FileEvent, fileEventBuffer),
	}
	go s.run(ctx)
	return s
}

// ConversationID returns the conversation this session is bound to.
func (s *Session) ConversationID() string { return s.conversationID }

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Waiting reports whether a reply is pending with no sign of progress yet.
// Cleared by the first ack, text token, or tool_call of the turn.
func (s *Session) Waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// Thinking returns the latest thinking-status text, or empty.
func (s *Session) Thinking() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thinking
}

// Tools returns the transient tool-run registry.
func (s *Session) Tools() *ToolRegistry { return s.tools }

// FileEvents returns the side channel for file-transfer outcomes.
func (s *Session) FileEvents() <-chan FileEvent { return s.fileEvents }

// Send transmits a user message with its conversation history. While the
// connection is down the frame is queued and carried by the next reconnect
// attempt instead of being dropped; only the most recent queued frame is
// kept.
func (s *Session) Send(ctx context.Context, content string, history []HistoryEntry) error {
	if history == nil {
		history = []HistoryEntry{}
	}
	frame, err := json.Marshal(chatMessage{
		Type:                "message",
		Content:             content,
		ConversationHistory: history,
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	s.mu.Lock()
	s.waiting = true
	conn := s.conn
	open := s.state == StateOpen
	if !open || conn == nil {
		s.pending = frame
		s.mu.Unlock()
		s.logger.Debug("connection down, queued outbound message")
		return nil
	}
	s.mu.Unlock()

	if err := conn.Write(ctx, frame); err != nil {
		s.mu.Lock()
		s.pending = frame
		s.mu.Unlock()
		s.logger.Debug("write failed, queued outbound message", "error", err)
	}
	return nil
}

// UploadFile sends a file to the backend sandbox. The outcome arrives on
// FileEvents.
func (s *Session) UploadFile(ctx context.Context, name string, data []byte, fileType string) error {
	frame, err := json.Marshal(fileUploadRequest{
		Type:        "file_upload",
		FileName:    name,
		FileContent: base64.StdEncoding.EncodeToString(data),
		FileSize:    int64(len(data)),
		FileType:    fileType,
	})
	if err != nil {
		return fmt.Errorf("encoding upload request: %w", err)
	}
	return s.writeNow(ctx, frame)
}

// DownloadFile requests a file from the backend sandbox.
func (s *Session) DownloadFile(ctx context.Context, path string) error {
	frame, err := json.Marshal(fileDownloadRequest{Type: "file_download", FilePath: path})
	if err != nil {
		return fmt.Errorf("encoding download request: %w", err)
	}
	return s.writeNow(ctx, frame)
}

// ListFiles requests a directory listing from the backend sandbox.
func (s *Session) ListFiles(ctx context.Context, folder string) error {
	frame, err := json.Marshal(listFilesRequest{Type: "list_files", FolderPath: folder})
	if err != nil {
		return fmt.Errorf("encoding list request: %w", err)
	}
	return s.writeNow(ctx, frame)
}

// writeNow sends a frame only if the connection is open. File operations
// are not queued across reconnects; the caller retries them.
func (s *Session) writeNow(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return fmt.Errorf("connection is not open")
	}
	return conn.Write(ctx, frame)
}

// Close shuts the session down and waits for its goroutine to exit, so no
// in-progress indicator or mutation can leak past the close. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		conn := s.conn
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		s.waiting = false
		s.thinking = ""
		s.mu.Unlock()

		s.cancel()
		if conn != nil {
			conn.Close()
		}
		<-s.done

		ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()
		s.finalizeTurn(ctx)
		s.tools.Clear()
		s.ids.Close()

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	})
}

// run drives the connect/read/reconnect loop until shutdown or the
// reconnect budget is exhausted.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateConnecting)
		conn, err := s.dialer.Dial(ctx, s.conversationID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			s.logger.Debug("dial failed", "attempt", failures, "error", err)
			if failures > s.opts.MaxReconnects {
				s.abandon(failures)
				return
			}
			if !sleepCtx(ctx, s.opts.ReconnectBackoff) {
				return
			}
			continue
		}
		failures = 0

		s.mu.Lock()
		s.conn = conn
		s.state = StateOpen
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()

		// A message typed during the reconnect window goes out first.
		if pending != nil {
			if err := conn.Write(ctx, pending); err != nil {
				s.mu.Lock()
				s.pending = pending
				s.mu.Unlock()
			}
		}

		readErr := s.readLoop(ctx, conn)
		conn.Close()

		s.mu.Lock()
		s.conn = nil
		intentional := s.shutdown
		s.state = StateDisconnected
		s.mu.Unlock()

		if intentional || ctx.Err() != nil {
			return
		}

		s.logger.Info("stream connection lost, reconnecting", "error", readErr)
		failures++
		if failures > s.opts.MaxReconnects {
			s.abandon(failures)
			return
		}
		if !sleepCtx(ctx, s.opts.ReconnectBackoff) {
			return
		}
	}
}

// abandon gives up on reconnecting and surfaces exactly one system message.
func (s *Session) abandon(attempts int) {
	s.setState(StateClosed)
	s.logger.Warn("abandoning reconnect", "attempts", attempts)

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	s.finalizeTurn(ctx)
	s.systemMessage(ctx, "Connection to the assistant was lost and could not be restored. Your conversation is saved; send a message to try again.")
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handleFrame(ctx, data)
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	ev, err := ParseEvent(data)
	if err != nil {
		s.logger.Warn("dropping malformed event", "error", err)
		s.systemMessage(ctx, fmt.Sprintf("Received an unreadable event from the stream; it was ignored (%v).", err))
		return
	}

	// Strict rule: an explicit event id is processed at most once.
	if key := ev.DedupeID(); key != "" && s.ids.CheckAndMark(key) {
		s.logger.Debug("suppressed duplicate event", "key", key)
		return
	}

	switch ev.Type {
	case EventAck:
		s.clearWaiting()
	case EventText:
		s.handleText(ctx, ev)
	case EventThinking:
		s.mu.Lock()
		s.thinking = ev.Content
		s.mu.Unlock()
	case EventPhase:
		s.logger.Debug("phase transition", "phase", ev.Phase, "status", ev.Status)
	case EventToolCall:
		s.clearWaiting()
		s.tools.Begin(ev)
	case EventToolResult:
		if !s.tools.Complete(ev) {
			s.logger.Warn("tool result without matching call", "id", ev.ID)
		}
	case EventDeliver:
		s.handleDeliver(ctx, ev)
	case EventError:
		s.finalizeTurn(ctx)
		s.systemMessage(ctx, ev.Content)
	case EventFileUploadSuccess, EventFileUploadError,
		EventFileDownloadSuccess, EventFileDownloadError,
		EventListFilesSuccess, EventListFilesError:
		s.handleFileEvent(ctx, ev)
	default:
		s.logger.Debug("ignoring unknown event type", "type", ev.Type)
	}
}

// handleText is the continue-vs-start-new branch: tokens append to the open
// assistant message; once the idle timer has finalized it, the next token
// starts a fresh message.
func (s *Session) handleText(ctx context.Context, ev *Event) {
	// Heuristic rule: an identical token burst inside the coalescing
	// window is a retransmission, not new content.
	if s.coalescer.Duplicate("text", ev.Content) {
		s.logger.Debug("coalesced retransmitted text token")
		return
	}

	s.clearWaiting()
	s.mu.Lock()
	s.thinking = ""
	s.turnOpen = true
	s.resetIdleLocked()
	s.mu.Unlock()

	if _, err := s.sink.AppendAssistantText(ctx, s.conversationID, ev.Content); err != nil {
		s.logger.Error("failed to append streamed text", "error", err)
	}
}

func (s *Session) handleDeliver(ctx context.Context, ev *Event) {
	s.finalizeTurn(ctx)

	artifacts := make([]store.Artifact, 0, len(ev.Artifacts))
	for _, a := range ev.Artifacts {
		artifacts = append(artifacts, store.Artifact{Path: a.Path, SizeBytes: a.Size})
	}

	content := ev.Summary
	if content == "" {
		content = fmt.Sprintf("Delivered %d file(s)", len(artifacts))
	}
	if err := s.sink.AppendArtifactMessage(ctx, s.conversationID, content, artifacts); err != nil {
		s.logger.Error("failed to append delivery message", "error", err)
	}
}

func (s *Session) handleFileEvent(ctx context.Context, ev *Event) {
	fe := FileEvent{Type: ev.Type, Name: ev.FileName, Err: ev.Error}

	switch ev.Type {
	case EventFileUploadError, EventFileDownloadError, EventListFilesError:
		s.systemMessage(ctx, ev.Error)
	case EventFileUploadSuccess:
		fe.Path = ev.SandboxPath
	case EventFileDownloadSuccess:
		data, err := base64.StdEncoding.DecodeString(ev.Content)
		if err != nil {
			s.logger.Warn("undecodable file download payload", "file", ev.FileName, "error", err)
			s.systemMessage(ctx, fmt.Sprintf("Download of %s arrived corrupted and was discarded.", ev.FileName))
			return
		}
		fe.Path = ev.FilePath
		fe.Data = data
	case EventListFilesSuccess:
		fe.Path = ev.FolderPath
		fe.Files = ev.Files
	}

	select {
	case s.fileEvents <- fe:
	default:
		s.logger.Warn("file event dropped, side channel full", "type", ev.Type)
	}
}

// finalizeTurn closes the in-progress assistant message, if any.
func (s *Session) finalizeTurn(ctx context.Context) {
	s.mu.Lock()
	open := s.turnOpen
	s.turnOpen = false
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.mu.Unlock()

	if !open {
		return
	}
	if _, err := s.sink.FinalizeAssistantMessage(ctx, s.conversationID); err != nil {
		s.logger.Error("failed to finalize assistant message", "error", err)
	}
}

// resetIdleLocked arms the debounce timer; when it fires with no further
// tokens the open assistant message is finalized. Each arming bumps the
// generation so a callback that already expired before the reset cannot
// finalize the turn a newer token reopened.
func (s *Session) resetIdleLocked() {
	s.idleGen++
	gen := s.idleGen
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.opts.IdleFinalize, func() { s.onIdle(gen) })
}

func (s *Session) onIdle(gen uint64) {
	s.mu.Lock()
	if gen != s.idleGen || !s.turnOpen {
		s.mu.Unlock()
		return
	}
	s.turnOpen = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if _, err := s.sink.FinalizeAssistantMessage(ctx, s.conversationID); err != nil {
		s.logger.Error("failed to finalize assistant message", "error", err)
	}
}

func (s *Session) clearWaiting() {
	s.mu.Lock()
	s.waiting = false
	s.mu.Unlock()
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) systemMessage(ctx context.Context, content string) {
	if content == "" {
		content = "The assistant reported an error."
	}
	if err := s.sink.AppendSystemMessage(ctx, s.conversationID, content); err != nil {
		s.logger.Error("failed to append system message", "error", err)
	}
}

// sleepCtx waits d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
