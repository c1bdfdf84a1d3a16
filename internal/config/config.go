// Package config loads server settings from defaults, COLLABROOM_* environment
// variables and an optional JSON or YAML file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"collabroom/internal/logging"
	"collabroom/internal/router"
)

const envPrefix = "COLLABROOM_"

// Config is the full server configuration
type Config struct {
	HTTP         *HTTPConfig
	WebSocket    *WebSocketConfig
	Database     *DatabaseConfig
	Hub          *HubConfig
	Rooms        *RoomsConfig
	Logging      *LoggingConfig
	Auth         *AuthConfig
	Compiler     *CompilerConfig
	ProfileImage *ProfileImageConfig
}

type HTTPConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// AllowedOrigins limits CORS and WebSocket origins; empty allows any
	AllowedOrigins []string
}

type WebSocketConfig struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	MaxMessageBytes int64
}

// DatabaseConfig controls the room activity journal
type DatabaseConfig struct {
	Enabled        bool
	Path           string
	MaxConnections int
	WriteBuffer    int
	RetryDelay     time.Duration
}

type HubConfig struct {
	QueueSize int
}

// RoomsConfig holds room lifecycle policy
type RoomsConfig struct {
	// PurgeThreshold purges room state when a departure leaves this many members or fewer
	PurgeThreshold int

	// MaxEventsPerMinute limits each connection; 0 disables limiting
	MaxEventsPerMinute int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// AuthConfig enables identity tokens when Secret is set
type AuthConfig struct {
	Secret      string
	TokenExpiry time.Duration
}

type CompilerConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type ProfileImageConfig struct {
	AllowedSuffix string
	Timeout       time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			BufferSize:      256,
			MaxMessageBytes: 8 << 20,
		},
		Database: &DatabaseConfig{
			Enabled:        true,
			Path:           "./data/collabroom.db",
			MaxConnections: 10,
			WriteBuffer:    1024,
			RetryDelay:     5 * time.Second,
		},
		Hub: &HubConfig{
			QueueSize: 1000,
		},
		Rooms: &RoomsConfig{
			PurgeThreshold:     1,
			MaxEventsPerMinute: 0,
		},
		Logging: &LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: &AuthConfig{
			TokenExpiry: 24 * time.Hour,
		},
		Compiler: &CompilerConfig{
			Endpoint: "https://api.jdoodle.com/v1/execute",
			Timeout:  15 * time.Second,
		},
		ProfileImage: &ProfileImageConfig{
			AllowedSuffix: "googleusercontent.com",
			Timeout:       10 * time.Second,
		},
	}
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Database == nil || c.Hub == nil ||
		c.Rooms == nil || c.Logging == nil || c.Auth == nil || c.Compiler == nil || c.ProfileImage == nil {
		return fmt.Errorf("every configuration section is required")
	}

	// Port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	// FUNCTIONAL DISCOVERY: A read deadline shorter than the ping interval drops idle clients
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Database.Enabled {
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
		if c.Database.MaxConnections <= 0 {
			return fmt.Errorf("database max connections must be positive")
		}
		if c.Database.WriteBuffer <= 0 {
			return fmt.Errorf("database write buffer must be positive")
		}
		if c.Database.RetryDelay < 0 {
			return fmt.Errorf("database retry delay cannot be negative")
		}
	}

	if c.Hub.QueueSize <= 0 {
		return fmt.Errorf("hub queue size must be positive")
	}
	if c.Rooms.PurgeThreshold < 0 {
		return fmt.Errorf("room purge threshold cannot be negative")
	}
	if c.Rooms.MaxEventsPerMinute < 0 || c.Rooms.MaxEventsPerMinute > router.MaxEventsPerMinute {
		return fmt.Errorf("max events per minute must be between 0 and %d", router.MaxEventsPerMinute)
	}

	if !logging.IsValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("log format must be text or json")
	}

	if c.Auth.TokenExpiry < 0 {
		return fmt.Errorf("token expiry cannot be negative")
	}
	if c.Compiler.Timeout <= 0 || c.ProfileImage.Timeout <= 0 {
		return fmt.Errorf("collaborator timeouts must be positive")
	}
	if c.ProfileImage.AllowedSuffix == "" {
		return fmt.Errorf("profile image allowed suffix cannot be empty")
	}

	return nil
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv applies COLLABROOM_* variables over the defaults.
// Unparseable values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	envString("HTTP_HOST", &config.HTTP.Host)
	envInt("HTTP_PORT", &config.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)
	if origins := os.Getenv(envPrefix + "HTTP_ALLOWED_ORIGINS"); origins != "" {
		config.HTTP.AllowedOrigins = splitList(origins)
	}

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if size := os.Getenv(envPrefix + "WEBSOCKET_MAX_MESSAGE_BYTES"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			config.WebSocket.MaxMessageBytes = n
		}
	}

	envBool("DATABASE_ENABLED", &config.Database.Enabled)
	envString("DATABASE_PATH", &config.Database.Path)
	envInt("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)
	envInt("DATABASE_WRITE_BUFFER", &config.Database.WriteBuffer)
	envDuration("DATABASE_RETRY_DELAY", &config.Database.RetryDelay)

	envInt("HUB_QUEUE_SIZE", &config.Hub.QueueSize)
	envInt("ROOMS_PURGE_THRESHOLD", &config.Rooms.PurgeThreshold)
	envInt("ROOMS_MAX_EVENTS_PER_MINUTE", &config.Rooms.MaxEventsPerMinute)

	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)

	envString("AUTH_SECRET", &config.Auth.Secret)
	envDuration("AUTH_TOKEN_EXPIRY", &config.Auth.TokenExpiry)

	envString("COMPILER_ENDPOINT", &config.Compiler.Endpoint)
	envString("COMPILER_CLIENT_ID", &config.Compiler.ClientID)
	envString("COMPILER_CLIENT_SECRET", &config.Compiler.ClientSecret)
	envDuration("COMPILER_TIMEOUT", &config.Compiler.Timeout)

	envString("PROFILE_IMAGE_ALLOWED_SUFFIX", &config.ProfileImage.AllowedSuffix)
	envDuration("PROFILE_IMAGE_TIMEOUT", &config.ProfileImage.Timeout)

	return config
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromFile reads a JSON or YAML file (chosen by extension) over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults.
// An empty path skips the file.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := file.apply(config); err != nil {
		return fmt.Errorf("invalid value in config file %s: %w", path, err)
	}
	return nil
}
