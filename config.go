package agentsync

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the client configuration, normally loaded from a YAML
// file with environment fallbacks for credentials.
type Config struct {
	// ServerURL is the websocket endpoint of the workspace server.
	ServerURL string `yaml:"server_url"`
	// UserID identifies this user on join.
	UserID string `yaml:"user_id"`
	// AuthToken authenticates joins (optional, falls back to env).
	AuthToken string `yaml:"auth_token"`

	// Channel tunes the transport.
	Channel ChannelConfig `yaml:"channel"`
	// Attention tunes notification handling.
	Attention AttentionConfig `yaml:"attention"`
	// History selects the attention history backend.
	History HistoryConfig `yaml:"history"`
	// Observability configures the metrics/health endpoint.
	Observability ObservabilityConfig `yaml:"observability"`
}

// ChannelConfig tunes the websocket transport.
type ChannelConfig struct {
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	EmitRate             float64       `yaml:"emit_rate"`
	EmitBurst            int           `yaml:"emit_burst"`
}

// AttentionConfig tunes notification auto-acknowledgement and trimming.
type AttentionConfig struct {
	MinUnfocused  time.Duration `yaml:"min_unfocused"`
	LongUnfocused time.Duration `yaml:"long_unfocused"`
	TrimSchedule  string        `yaml:"trim_schedule"`
}

// HistoryConfig selects where attention history persists.
// Backend is one of "none", "file", "redis".
type HistoryConfig struct {
	Backend string             `yaml:"backend"`
	Dir     string             `yaml:"dir"`
	Redis   RedisHistoryConfig `yaml:"redis"`
}

// RedisHistoryConfig holds Redis history settings.
type RedisHistoryConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	ItemTTL  time.Duration `yaml:"item_ttl"`
}

// ObservabilityConfig configures the local metrics/health server.
type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.UserID == "" {
		return errors.New("user_id is required")
	}
	switch c.History.Backend {
	case "", "none", "file":
	case "redis":
		if c.History.Redis.Addr == "" {
			return errors.New("history.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
	return nil
}

// FileReader abstracts file access for testing.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader reads files from the OS filesystem.
type OSFileReader struct{}

// ReadFile reads a file from disk.
func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - config path comes from the operator
}

// Parse limits for untrusted config input.
const (
	maxConfigSize  = 1 << 20 // 1MB
	maxConfigDepth = 20
	maxConfigNodes = 10000
)

// ConfigLoader loads configuration from a file with bounded YAML
// parsing so a malformed or hostile config cannot exhaust memory.
type ConfigLoader struct {
	fileReader FileReader
}

// NewConfigLoader creates a config loader.
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return &ConfigLoader{fileReader: fr}
}

// LoadConfig loads and parses a config file, applies defaults and
// environment fallbacks, and validates the result.
func (cl *ConfigLoader) LoadConfig(path string) (*Config, error) {
	data, err := cl.fileReader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if len(data) > maxConfigSize {
		return nil, fmt.Errorf("config file %d bytes exceeds maximum %d bytes", len(data), maxConfigSize)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	nodes := 0
	if err := checkNode(&root, 0, &nodes); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// checkNode enforces depth and node-count limits on the parsed tree.
func checkNode(n *yaml.Node, depth int, nodes *int) error {
	if depth > maxConfigDepth {
		return fmt.Errorf("nesting depth exceeds maximum %d", maxConfigDepth)
	}
	*nodes++
	if *nodes > maxConfigNodes {
		return fmt.Errorf("node count exceeds maximum %d", maxConfigNodes)
	}
	for _, child := range n.Content {
		if err := checkNode(child, depth+1, nodes); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.UserID == "" {
		c.UserID = os.Getenv("AGENTSYNC_USER_ID")
	}
	if c.AuthToken == "" {
		c.AuthToken = os.Getenv("AGENTSYNC_AUTH_TOKEN")
	}
	if c.ServerURL == "" {
		c.ServerURL = os.Getenv("AGENTSYNC_SERVER_URL")
	}
	if c.History.Backend == "redis" && c.History.Redis.Addr == "" {
		c.History.Redis.Addr = os.Getenv("AGENTSYNC_REDIS_ADDR")
	}
	if c.Observability.Port == 0 {
		c.Observability.Port = 8090
	}
}
