// ABOUTME: Configuration loading and parsing for the iris client core
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete iris client configuration
type Config struct {
	Remote   RemoteConfig   `yaml:"remote"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Tabs     TabsConfig     `yaml:"tabs"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RemoteConfig holds the remote thread API and streaming endpoints
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"` // REST API root, e.g. https://api.example.com
	WSURL   string `yaml:"ws_url"`   // WebSocket root, e.g. wss://api.example.com
	Token   string `yaml:"token"`    // Optional static bearer token
}

// DatabaseConfig holds local store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig holds conversation-level limits
type SessionConfig struct {
	MaxConversations int `yaml:"max_conversations"` // Local store cap, evict least-recently-updated
}

// TabsConfig holds tab lifecycle configuration
type TabsConfig struct {
	MaxTabs  int    `yaml:"max_tabs"`
	Ordering string `yaml:"ordering"` // "newest-first" (default) or "oldest-first"
}

// StreamConfig holds streaming ingestion timing configuration
type StreamConfig struct {
	IdleFinalize     time.Duration `yaml:"-"`
	CoalesceWindow   time.Duration `yaml:"-"`
	ReconnectBackoff time.Duration `yaml:"-"`
	MaxReconnects    int           `yaml:"max_reconnects"`

	// Raw string values for YAML unmarshaling
	IdleFinalizeRaw     string `yaml:"idle_finalize"`
	CoalesceWindowRaw   string `yaml:"coalesce_window"`
	ReconnectBackoffRaw string `yaml:"reconnect_backoff"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding config fields are absent.
const (
	DefaultMaxConversations = 50
	DefaultMaxTabs          = 10
	DefaultIdleFinalize     = 200 * time.Millisecond
	DefaultCoalesceWindow   = 50 * time.Millisecond
	DefaultReconnectBackoff = time.Second
	DefaultMaxReconnects    = 5
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero-valued fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Session.MaxConversations <= 0 {
		c.Session.MaxConversations = DefaultMaxConversations
	}
	if c.Tabs.MaxTabs <= 0 {
		c.Tabs.MaxTabs = DefaultMaxTabs
	}
	if c.Tabs.Ordering == "" {
		c.Tabs.Ordering = "newest-first"
	}
	if c.Stream.IdleFinalize <= 0 {
		c.Stream.IdleFinalize = DefaultIdleFinalize
	}
	if c.Stream.CoalesceWindow <= 0 {
		c.Stream.CoalesceWindow = DefaultCoalesceWindow
	}
	if c.Stream.ReconnectBackoff <= 0 {
		c.Stream.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.Stream.MaxReconnects <= 0 {
		c.Stream.MaxReconnects = DefaultMaxReconnects
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Tabs.Ordering != "newest-first" && c.Tabs.Ordering != "oldest-first" {
		return fmt.Errorf("tabs.ordering must be %q or %q, got %q", "newest-first", "oldest-first", c.Tabs.Ordering)
	}

	// Remote endpoints are optional: without them the client runs local-only.
	// But a ws_url without a base_url makes no sense.
	if c.Remote.WSURL != "" && c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required when remote.ws_url is set")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Stream.IdleFinalizeRaw != "" {
		cfg.Stream.IdleFinalize, err = time.ParseDuration(cfg.Stream.IdleFinalizeRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_finalize %q: %w", cfg.Stream.IdleFinalizeRaw, err)
		}
	}

	if cfg.Stream.CoalesceWindowRaw != "" {
		cfg.Stream.CoalesceWindow, err = time.ParseDuration(cfg.Stream.CoalesceWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing coalesce_window %q: %w", cfg.Stream.CoalesceWindowRaw, err)
		}
	}

	if cfg.Stream.ReconnectBackoffRaw != "" {
		cfg.Stream.ReconnectBackoff, err = time.ParseDuration(cfg.Stream.ReconnectBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_backoff %q: %w", cfg.Stream.ReconnectBackoffRaw, err)
		}
	}

	return nil
}
