package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Relay     RelayConfig
	Sandbox   SandboxConfig
	Direct    DirectConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"CORS_ORIGINS"`
}

// RelayConfig holds request relay settings.
type RelayConfig struct {
	BaseURL            string        `envconfig:"RELAY_BASE_URL"`
	Namespace          string        `envconfig:"RELAY_NAMESPACE" default:"api"`
	Channel            string        `envconfig:"RELAY_CHANNEL" default:"window.ReactNativeWebView"`
	MaxFileBytes       int64         `envconfig:"RELAY_MAX_FILE_BYTES" default:"6291456"`
	LoadTimeout        time.Duration `envconfig:"RELAY_LOAD_TIMEOUT" default:"10s"`
	PollInterval       time.Duration `envconfig:"RELAY_POLL_INTERVAL" default:"100ms"`
	OptimisticDispatch bool          `envconfig:"RELAY_OPTIMISTIC_DISPATCH" default:"false"`
}

// SandboxConfig holds the in-process sandbox surface settings. When Embedded
// is false the relay waits for a shell to connect over the WebSocket bridge.
type SandboxConfig struct {
	Embedded       bool          `envconfig:"SANDBOX_EMBEDDED" default:"false"`
	Origin         string        `envconfig:"SANDBOX_ORIGIN"`
	PageURL        string        `envconfig:"SANDBOX_PAGE_URL"`
	ExecTimeout    time.Duration `envconfig:"SANDBOX_EXEC_TIMEOUT" default:"5s"`
	RequestTimeout time.Duration `envconfig:"SANDBOX_REQUEST_TIMEOUT" default:"30s"`
	QueueSize      int           `envconfig:"SANDBOX_QUEUE_SIZE" default:"256"`
}

// DirectConfig holds the direct-fetch fallback client settings.
type DirectConfig struct {
	Enabled          bool          `envconfig:"DIRECT_FALLBACK" default:"false"`
	Timeout          time.Duration `envconfig:"DIRECT_TIMEOUT" default:"30s"`
	RetryCount       int           `envconfig:"DIRECT_RETRIES" default:"2"`
	RequestsPerSec   float64       `envconfig:"DIRECT_RPS" default:"10"`
	Burst            int           `envconfig:"DIRECT_BURST" default:"20"`
	BreakerFailures  uint32        `envconfig:"DIRECT_BREAKER_FAILURES" default:"5"`
	BreakerOpenDelay time.Duration `envconfig:"DIRECT_BREAKER_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration. The global bucket caps
// all callers together and is off while GlobalRequestsPerSecond is zero.
type RateLimitConfig struct {
	RequestsPerSecond       int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst                   int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled                 bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	GlobalRequestsPerSecond int  `envconfig:"RATE_LIMIT_GLOBAL_RPS" default:"0"`
	GlobalBurst             int  `envconfig:"RATE_LIMIT_GLOBAL_BURST" default:"0"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
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

// LoadEnvFiles reads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.Relay.LoadTimeout <= 0 {
		return errors.New("RELAY_LOAD_TIMEOUT must be positive")
	}
	if c.Relay.PollInterval <= 0 || c.Relay.PollInterval > c.Relay.LoadTimeout {
		return errors.New("RELAY_POLL_INTERVAL must be positive and no longer than RELAY_LOAD_TIMEOUT")
	}
	if c.Relay.MaxFileBytes < 0 {
		return errors.New("RELAY_MAX_FILE_BYTES must not be negative")
	}
	if c.Sandbox.Embedded && c.Sandbox.Origin == "" && c.Relay.BaseURL == "" {
		return errors.New("SANDBOX_EMBEDDED needs SANDBOX_ORIGIN or RELAY_BASE_URL")
	}
	if c.Direct.Enabled && c.Relay.BaseURL == "" {
		return errors.New("DIRECT_FALLBACK needs RELAY_BASE_URL")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Relay: RelayConfig{
			Namespace:    "api",
			Channel:      "window.ReactNativeWebView",
			MaxFileBytes: 6 << 20,
			LoadTimeout:  10 * time.Second,
			PollInterval: 100 * time.Millisecond,
		},
		Sandbox: SandboxConfig{
			ExecTimeout:    5 * time.Second,
			RequestTimeout: 30 * time.Second,
			QueueSize:      256,
		},
		Direct: DirectConfig{
			Timeout:          30 * time.Second,
			RetryCount:       2,
			RequestsPerSec:   10,
			Burst:            20,
			BreakerFailures:  5,
			BreakerOpenDelay: 30 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
