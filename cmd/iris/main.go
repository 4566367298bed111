// ABOUTME: Entry point for the iris chat client
// ABOUTME: Wires config, stores, session manager, tab controller, and the stream ingestor

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/techtuber101/ASideMission/internal/auth"
	"github.com/techtuber101/ASideMission/internal/config"
	"github.com/techtuber101/ASideMission/internal/remote"
	"github.com/techtuber101/ASideMission/internal/session"
	"github.com/techtuber101/ASideMission/internal/store"
	"github.com/techtuber101/ASideMission/internal/stream"
	"github.com/techtuber101/ASideMission/internal/tabs"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _      _
 (_)    (_)
  _ _ __ _ ___
 | | '__| / __|
 | | |  | \__ \
 |_|_|  |_|___/
`

// getConfigPath returns the path to the client config file.
// Priority: IRIS_CONFIG env var > XDG_CONFIG_HOME/iris/iris.yaml > ~/.config/iris/iris.yaml
func getConfigPath() string {
	if envPath := os.Getenv("IRIS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "iris.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "iris", "iris.yaml")
}

// getDataPath returns the path to the iris data directory.
// Priority: XDG_DATA_HOME/iris > ~/.local/share/iris
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "iris")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: iris <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  chat [conversation-id]  Start or continue a conversation")
		fmt.Println("  threads                 List conversations")
		fmt.Println("  new [seed text]         Create a conversation")
		fmt.Println("  delete <id>             Delete a conversation")
		fmt.Println("  migrate                 Upload local conversations to the backend")
		fmt.Println("  init                    Create a new config file")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx)
	case "threads":
		err = runThreads(ctx)
	case "new":
		err = runNew(ctx)
	case "delete":
		err = runDelete(ctx)
	case "migrate":
		err = runMigrate(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired-up client components.
type app struct {
	cfg      *config.Config
	repo     store.Repository
	manager  *session.Manager
	ingestor *stream.Ingestor
	tabsCtl  *tabs.Controller
	logger   *slog.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	repo, err := store.NewSQLiteRepository(cfg.Database.Path, cfg.Session.MaxConversations)
	if err != nil {
		return nil, fmt.Errorf("opening conversation store: %w", err)
	}

	tokens := auth.NewSessionTokenSource(auth.NewStaticTokenSource(cfg.Remote.Token))

	var gateway session.ThreadGateway
	var dialer stream.Dialer
	if cfg.Remote.BaseURL != "" {
		gateway = remote.NewGateway(cfg.Remote.BaseURL, tokens, logger)
	}
	if cfg.Remote.WSURL != "" {
		dialer = stream.NewWebSocketDialer(cfg.Remote.WSURL, tokens)
	}

	manager := session.NewManager(repo, gateway, nil, logger)

	var ingestor *stream.Ingestor
	if dialer != nil {
		ingestor = stream.NewIngestor(dialer, manager, stream.Options{
			IdleFinalize:     cfg.Stream.IdleFinalize,
			CoalesceWindow:   cfg.Stream.CoalesceWindow,
			ReconnectBackoff: cfg.Stream.ReconnectBackoff,
			MaxReconnects:    cfg.Stream.MaxReconnects,
		}, logger)
	}

	tabsCtl := tabs.NewController(cfg.Tabs.MaxTabs, tabs.Ordering(cfg.Tabs.Ordering), logger)

	return &app{
		cfg:      cfg,
		repo:     repo,
		manager:  manager,
		ingestor: ingestor,
		tabsCtl:  tabsCtl,
		logger:   logger,
	}, nil
}

func (a *app) close() {
	if a.ingestor != nil {
		a.ingestor.CloseAll()
	}
	if err := a.repo.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

func runChat(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	var conv *store.Conversation
	if len(os.Args) > 2 {
		conv, err = a.manager.GetConversation(ctx, os.Args[2])
		if err != nil {
			return fmt.Errorf("loading conversation: %w", err)
		}
		_, evicted := a.tabsCtl.Open(conv.ID, conv.Title)
		a.closeEvictedTab(evicted)
	}

	// Render messages as the ingestor and manager mutate the log.
	chatCtx, chatCancel := context.WithCancel(ctx)
	defer chatCancel()
	changes, _ := a.manager.Notifier().Subscribe(chatCtx, session.AllConversations)
	var render sync.WaitGroup
	render.Add(1)
	go func() {
		defer render.Done()
		a.renderLoop(chatCtx, changes)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		if conv == nil {
			conv, err = a.manager.CreateConversation(ctx, line)
			if err != nil {
				return fmt.Errorf("creating conversation: %w", err)
			}
			_, evicted := a.tabsCtl.PromoteDraft(conv.ID, conv.Title)
			a.closeEvictedTab(evicted)
		}

		if _, err := a.manager.AppendUserMessage(ctx, conv.ID, line); err != nil {
			a.logger.Error("failed to append message", "error", err)
			continue
		}

		if a.ingestor != nil {
			s := a.ingestor.Open(conv.ID)
			history, herr := a.history(ctx, conv.ID)
			if herr != nil {
				a.logger.Warn("failed to build history", "error", herr)
			}
			if err := s.Send(ctx, line, history); err != nil {
				a.logger.Error("failed to send message", "error", err)
			}
		}
	}

	chatCancel()
	render.Wait()
	return scanner.Err()
}

// history builds the outbound conversation history, excluding system
// messages and the in-flight assistant message.
func (a *app) history(ctx context.Context, conversationID string) ([]stream.HistoryEntry, error) {
	conv, err := a.manager.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	streamingID := a.manager.StreamingMessageID(conversationID)
	entries := make([]stream.HistoryEntry, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		if msg.Role == store.RoleSystem || msg.ID == streamingID {
			continue
		}
		entries = append(entries, stream.HistoryEntry{Role: msg.Role, Content: msg.Content})
	}
	return entries, nil
}

// closeEvictedTab tears down the stream session of a tab that fell out of
// the tab strip, so an evicted conversation never keeps a live connection.
func (a *app) closeEvictedTab(evicted *tabs.Tab) {
	if evicted == nil || a.ingestor == nil {
		return
	}
	a.ingestor.Close(evicted.ConversationID)
}

// renderLoop prints appended and finalized messages until ctx ends, and
// keeps tab titles in step with the manager's title changes.
func (a *app) renderLoop(ctx context.Context, changes <-chan session.Change) {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Kind == session.ChangeTitleChanged {
				a.tabsCtl.SetTitle(change.ConversationID, change.Title)
				continue
			}
			if change.Kind != session.ChangeMessageAppended && change.Kind != session.ChangeMessageUpdated {
				continue
			}
			conv, err := a.repo.GetConversation(ctx, change.ConversationID)
			if err != nil {
				continue
			}
			for _, msg := range conv.Messages {
				if msg.ID != change.MessageID {
					continue
				}
				switch msg.Role {
				case store.RoleAssistant:
					if change.Kind == session.ChangeMessageUpdated {
						green.Printf("\rassistant: %s", msg.Content)
					}
				case store.RoleSystem:
					fmt.Println()
					gray.Printf("[%s]\n", msg.Content)
				}
			}
		}
	}
}

func runThreads(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	convs, err := a.manager.ListConversations(ctx)
	if err != nil {
		return err
	}

	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, conv := range convs {
		cyan.Printf("%-36s", conv.ID)
		fmt.Printf("  %-50s", conv.Title)
		gray.Printf("  %s  %s\n", conv.StorageClass, conv.UpdatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func runNew(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	seed := strings.Join(os.Args[2:], " ")
	conv, err := a.manager.CreateConversation(ctx, seed)
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s (%s)\n", conv.ID, conv.Title, conv.StorageClass)
	return nil
}

func runDelete(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: iris delete <conversation-id>")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	deleted, err := a.manager.DeleteConversation(ctx, os.Args[2])
	if err != nil {
		return err
	}
	if !deleted {
		fmt.Println("No such conversation.")
		return nil
	}
	fmt.Println("Deleted.")
	return nil
}

func runMigrate(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	migrated, err := a.manager.MigrateLocalConversations(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Migrated %d conversation(s) to the backend.\n", migrated)
	return nil
}

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	dbPath := filepath.Join(getDataPath(), "iris.db")
	content := fmt.Sprintf(`# iris client configuration
remote:
  base_url: ""        # e.g. https://api.example.com/api
  ws_url: ""          # e.g. wss://api.example.com
  token: "${IRIS_TOKEN}"

database:
  path: %s

session:
  max_conversations: 50

tabs:
  max_tabs: 10
  ordering: newest-first

stream:
  idle_finalize: 200ms
  coalesce_window: 50ms
  reconnect_backoff: 1s
  max_reconnects: 5

logging:
  level: info
  format: text
`, dbPath)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Created %s\n", configPath)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
