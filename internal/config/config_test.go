// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
remote:
  base_url: "https://api.example.com"
  ws_url: "wss://api.example.com"
  token: "test-token"

database:
  path: "./test.db"

session:
  max_conversations: 25

tabs:
  max_tabs: 8
  ordering: "oldest-first"

stream:
  idle_finalize: "150ms"
  coalesce_window: "30ms"
  reconnect_backoff: "2s"
  max_reconnects: 3

logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Remote.BaseURL != "https://api.example.com" {
		t.Errorf("Remote.BaseURL = %q, want %q", cfg.Remote.BaseURL, "https://api.example.com")
	}
	if cfg.Remote.WSURL != "wss://api.example.com" {
		t.Errorf("Remote.WSURL = %q, want %q", cfg.Remote.WSURL, "wss://api.example.com")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Session.MaxConversations != 25 {
		t.Errorf("Session.MaxConversations = %d, want 25", cfg.Session.MaxConversations)
	}
	if cfg.Tabs.MaxTabs != 8 {
		t.Errorf("Tabs.MaxTabs = %d, want 8", cfg.Tabs.MaxTabs)
	}
	if cfg.Tabs.Ordering != "oldest-first" {
		t.Errorf("Tabs.Ordering = %q, want %q", cfg.Tabs.Ordering, "oldest-first")
	}
	if cfg.Stream.IdleFinalize != 150*time.Millisecond {
		t.Errorf("Stream.IdleFinalize = %v, want 150ms", cfg.Stream.IdleFinalize)
	}
	if cfg.Stream.CoalesceWindow != 30*time.Millisecond {
		t.Errorf("Stream.CoalesceWindow = %v, want 30ms", cfg.Stream.CoalesceWindow)
	}
	if cfg.Stream.ReconnectBackoff != 2*time.Second {
		t.Errorf("Stream.ReconnectBackoff = %v, want 2s", cfg.Stream.ReconnectBackoff)
	}
	if cfg.Stream.MaxReconnects != 3 {
		t.Errorf("Stream.MaxReconnects = %d, want 3", cfg.Stream.MaxReconnects)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Session.MaxConversations != DefaultMaxConversations {
		t.Errorf("MaxConversations = %d, want %d", cfg.Session.MaxConversations, DefaultMaxConversations)
	}
	if cfg.Tabs.MaxTabs != DefaultMaxTabs {
		t.Errorf("MaxTabs = %d, want %d", cfg.Tabs.MaxTabs, DefaultMaxTabs)
	}
	if cfg.Tabs.Ordering != "newest-first" {
		t.Errorf("Ordering = %q, want newest-first", cfg.Tabs.Ordering)
	}
	if cfg.Stream.IdleFinalize != DefaultIdleFinalize {
		t.Errorf("IdleFinalize = %v, want %v", cfg.Stream.IdleFinalize, DefaultIdleFinalize)
	}
	if cfg.Stream.CoalesceWindow != DefaultCoalesceWindow {
		t.Errorf("CoalesceWindow = %v, want %v", cfg.Stream.CoalesceWindow, DefaultCoalesceWindow)
	}
	if cfg.Stream.MaxReconnects != DefaultMaxReconnects {
		t.Errorf("MaxReconnects = %d, want %d", cfg.Stream.MaxReconnects, DefaultMaxReconnects)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("IRIS_TEST_TOKEN", "secret-from-env")

	configContent := `
remote:
  base_url: "https://api.example.com"
  token: "${IRIS_TEST_TOKEN}"

database:
  path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Remote.Token != "secret-from-env" {
		t.Errorf("Remote.Token = %q, want %q", cfg.Remote.Token, "secret-from-env")
	}
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
remote:
  base_url: "https://api.example.com"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for missing database.path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want mention of database.path", err)
	}
}

func TestLoad_InvalidOrdering(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: "./test.db"

tabs:
  ordering: "sideways"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid tabs.ordering")
	}
}

func TestLoad_WSURLRequiresBaseURL(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
remote:
  ws_url: "wss://api.example.com"

database:
  path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error when ws_url is set without base_url")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: "./test.db"

stream:
  idle_finalize: "not-a-duration"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}
