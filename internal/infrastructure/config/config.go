package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all client configuration.
type Config struct {
	Socket  SocketConfig
	Uploads UploadsConfig
	Diag    DiagConfig
	Logging LogConfig
}

// SocketConfig holds realtime socket settings. The tunable fields double as
// the connection policy handed to the registry.
type SocketConfig struct {
	URL               string        `envconfig:"SOCKET_URL" default:"ws://localhost:8000/api/ws" yaml:"url"`
	ProjectID         string        `envconfig:"PROJECT_ID" yaml:"project_id"`
	ConversationID    string        `envconfig:"CONVERSATION_ID" yaml:"conversation_id"`
	EmbedToken        string        `envconfig:"EMBED_TOKEN" yaml:"embed_token"`
	ReconnectAttempts int           `envconfig:"RECONNECT_ATTEMPTS" default:"5" yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `envconfig:"RECONNECT_DELAY" default:"1s" yaml:"reconnect_delay"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s" yaml:"heartbeat_interval"`
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s" yaml:"connect_timeout"`
}

// UploadsConfig holds attachment upload settings for the REST layer.
type UploadsConfig struct {
	BaseURL    string        `envconfig:"UPLOADS_BASE_URL" default:"http://localhost:8000/api" yaml:"base_url"`
	Timeout    time.Duration `envconfig:"UPLOADS_TIMEOUT" default:"60s" yaml:"timeout"`
	MaxRetries int           `envconfig:"UPLOADS_MAX_RETRIES" default:"3" yaml:"max_retries"`
}

// DiagConfig holds the local diagnostics HTTP server settings.
type DiagConfig struct {
	Enabled bool   `envconfig:"DIAG_ENABLED" default:"false" yaml:"enabled"`
	Port    string `envconfig:"DIAG_PORT" default:"9090" yaml:"port"`
	Host    string `envconfig:"DIAG_HOST" default:"127.0.0.1" yaml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile applies a YAML profile on top of the environment-derived config.
// Environment values act as the base; non-zero file values win.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Socket: SocketConfig{
			URL:               "ws://localhost:8000/api/ws",
			ReconnectAttempts: 5,
			ReconnectDelay:    time.Second,
			HeartbeatInterval: 30 * time.Second,
			ConnectTimeout:    10 * time.Second,
		},
		Uploads: UploadsConfig{
			BaseURL:    "http://localhost:8000/api",
			Timeout:    60 * time.Second,
			MaxRetries: 3,
		},
		Diag: DiagConfig{
			Enabled: false,
			Port:    "9090",
			Host:    "127.0.0.1",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
