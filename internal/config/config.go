package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Media     *MediaConfig     `json:"media"`
	Router    *RouterConfig    `json:"router"`
	Redis     *RedisConfig     `json:"redis"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`

	// AllowedOrigins restricts WebSocket upgrades. Empty accepts any origin.
	AllowedOrigins []string `json:"allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

type MediaConfig struct {
	UploadDir      string `json:"upload_dir"`
	PublicPrefix   string `json:"public_prefix"`
	MaxUploadBytes int64  `json:"max_upload_bytes"`
}

type RouterConfig struct {
	// MessagesPerMinute caps content messages per user. Zero disables the cap.
	MessagesPerMinute int `json:"messages_per_minute"`
}

// RedisConfig is optional. An empty Addr disables the presence mirror.
type RedisConfig struct {
	Addr      string        `json:"addr"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	KeyPrefix string        `json:"key_prefix"`
	Timeout   time.Duration `json:"timeout"`
}

// Enabled reports whether a Redis address is configured.
func (r *RedisConfig) Enabled() bool {
	return r != nil && r.Addr != ""
}

// FUNCTIONAL DISCOVERY: Defaults match what the chat clients expect out of
// the box: port 3001, uploads under /uploads, 50MB request bodies.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/chatterbox.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         3001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     256,
			MaxMessageSize: 16 << 20,
		},
		Media: &MediaConfig{
			UploadDir:      "./uploads",
			PublicPrefix:   "/uploads/",
			MaxUploadBytes: 50 << 20,
		},
		Router: &RouterConfig{
			MessagesPerMinute: 100,
		},
		Redis: &RedisConfig{
			KeyPrefix: "chatterbox",
			Timeout:   2 * time.Second,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Media == nil {
		return fmt.Errorf("media configuration is required")
	}
	if c.Media.UploadDir == "" {
		return fmt.Errorf("media upload dir cannot be empty")
	}
	if !strings.HasPrefix(c.Media.PublicPrefix, "/") {
		return fmt.Errorf("media public prefix must start with /")
	}
	if c.Media.MaxUploadBytes <= 0 {
		return fmt.Errorf("media max upload bytes must be positive")
	}

	if c.Router == nil {
		return fmt.Errorf("router configuration is required")
	}
	if c.Router.MessagesPerMinute < 0 {
		return fmt.Errorf("router messages per minute cannot be negative")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.Redis.Enabled() {
		if c.Redis.DB < 0 {
			return fmt.Errorf("redis db cannot be negative")
		}
		if c.Redis.Timeout <= 0 {
			return fmt.Errorf("redis timeout must be positive")
		}
		if c.Redis.KeyPrefix == "" {
			return fmt.Errorf("redis key prefix cannot be empty")
		}
	}

	return nil
}

// Address is the host:port the HTTP server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Unparseable values are ignored and the previous value kept.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("CHATTERBOX_DATABASE_PATH", &config.Database.Path)
	setDuration("CHATTERBOX_DATABASE_TIMEOUT", &config.Database.Timeout)

	setString("CHATTERBOX_HTTP_HOST", &config.HTTP.Host)
	setInt("CHATTERBOX_HTTP_PORT", &config.HTTP.Port)
	// PORT is the conventional platform override.
	setInt("PORT", &config.HTTP.Port)
	setDuration("CHATTERBOX_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	setDuration("CHATTERBOX_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	if v := os.Getenv("CHATTERBOX_HTTP_ALLOWED_ORIGINS"); v != "" {
		config.HTTP.AllowedOrigins = splitList(v)
	}

	setDuration("CHATTERBOX_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	setDuration("CHATTERBOX_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	setDuration("CHATTERBOX_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	setInt("CHATTERBOX_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	setInt64("CHATTERBOX_WEBSOCKET_MAX_MESSAGE_SIZE", &config.WebSocket.MaxMessageSize)

	setString("CHATTERBOX_MEDIA_UPLOAD_DIR", &config.Media.UploadDir)
	setString("CHATTERBOX_MEDIA_PUBLIC_PREFIX", &config.Media.PublicPrefix)
	setInt64("CHATTERBOX_MEDIA_MAX_UPLOAD_BYTES", &config.Media.MaxUploadBytes)

	setInt("CHATTERBOX_ROUTER_MESSAGES_PER_MINUTE", &config.Router.MessagesPerMinute)

	setString("CHATTERBOX_REDIS_ADDR", &config.Redis.Addr)
	setString("CHATTERBOX_REDIS_PASSWORD", &config.Redis.Password)
	setInt("CHATTERBOX_REDIS_DB", &config.Redis.DB)
	setString("CHATTERBOX_REDIS_KEY_PREFIX", &config.Redis.KeyPrefix)
	setDuration("CHATTERBOX_REDIS_TIMEOUT", &config.Redis.Timeout)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Media     *MediaConfig         `json:"media"`
	Router    *RouterConfigFile    `json:"router"`
	Redis     *RedisConfigFile     `json:"redis"`
}

// RouterConfigFile uses a pointer so an explicit 0 can disable the limiter.
type RouterConfigFile struct {
	MessagesPerMinute *int `json:"messages_per_minute"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port           int      `json:"port"`
	ReadTimeout    string   `json:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout"`
	Host           string   `json:"host"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type RedisConfigFile struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
	Timeout   string `json:"timeout"`
}

// LoadFromFile layers a JSON file over the defaults and validates the result.
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// applyFile overrides only the fields the file sets. A malformed duration
// is an error rather than a silent fallback.
func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var parseErr error
	duration := func(field, v string, dst *time.Duration) {
		if v == "" || parseErr != nil {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			parseErr = fmt.Errorf("%s: %w", field, err)
			return
		}
		*dst = d
	}

	if f := file.Database; f != nil {
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		duration("database.timeout", f.Timeout, &config.Database.Timeout)
	}

	if f := file.HTTP; f != nil {
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		if f.AllowedOrigins != nil {
			config.HTTP.AllowedOrigins = f.AllowedOrigins
		}
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
	}

	if f := file.WebSocket; f != nil {
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
	}

	if f := file.Media; f != nil {
		if f.UploadDir != "" {
			config.Media.UploadDir = f.UploadDir
		}
		if f.PublicPrefix != "" {
			config.Media.PublicPrefix = f.PublicPrefix
		}
		if f.MaxUploadBytes > 0 {
			config.Media.MaxUploadBytes = f.MaxUploadBytes
		}
	}

	if f := file.Router; f != nil && f.MessagesPerMinute != nil {
		config.Router.MessagesPerMinute = *f.MessagesPerMinute
	}

	if f := file.Redis; f != nil {
		if f.Addr != "" {
			config.Redis.Addr = f.Addr
		}
		if f.Password != "" {
			config.Redis.Password = f.Password
		}
		if f.DB > 0 {
			config.Redis.DB = f.DB
		}
		if f.KeyPrefix != "" {
			config.Redis.KeyPrefix = f.KeyPrefix
		}
		duration("redis.timeout", f.Timeout, &config.Redis.Timeout)
	}

	if parseErr != nil {
		return fmt.Errorf("invalid duration in %s: %w", filepath, parseErr)
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// Each layer overrides only what it sets, so an environment value survives a
// file that does not mention it.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
