package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Target configuration
	TargetsFile  string `envconfig:"TARGETS_FILE" default:"targets.yaml"`
	WatchTargets bool   `envconfig:"WATCH_TARGETS" default:"true"`

	// Storage configuration
	StorageBackend   string `envconfig:"STORAGE_BACKEND" default:"sqlite"`
	SQLitePath       string `envconfig:"SQLITE_PATH" default:"./data/feedwatch.db"`
	StorageAccount   string `envconfig:"AZURE_STORAGE_ACCOUNT"`
	StorageContainer string `envconfig:"AZURE_STORAGE_CONTAINER" default:"feedwatch"`
	RedisAddr        string `envconfig:"REDIS_ADDR"`
	RedisPassword    string `envconfig:"REDIS_PASSWORD"`
	RedisDB          int    `envconfig:"REDIS_DB" default:"0"`

	// Polling configuration
	UserAgent     string        `envconfig:"USER_AGENT"`
	HTTPTimeout   time.Duration `envconfig:"HTTP_TIMEOUT" default:"20s"`
	MinInterval   time.Duration `envconfig:"MIN_INTERVAL" default:"60s"`
	FallbackDelay time.Duration `envconfig:"FALLBACK_DELAY" default:"60s"`
	RequestDelay  time.Duration `envconfig:"REQUEST_DELAY" default:"2s"`
	SourceDelay   time.Duration `envconfig:"SOURCE_DELAY" default:"3s"`

	// Heartbeat configuration
	HeartbeatSchedule string `envconfig:"HEARTBEAT_SCHEDULE"`
	HeartbeatChannel  string `envconfig:"HEARTBEAT_CHANNEL"`

	// API Keys and credentials
	RedditClientID     string `envconfig:"REDDIT_CLIENT_ID"`
	RedditClientSecret string `envconfig:"REDDIT_CLIENT_SECRET"`
	TelegramBotToken   string `envconfig:"TELEGRAM_BOT_TOKEN"`

	// Notification configuration
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Level returns the logrus level, with DEBUG forcing debug output.
func (c *Config) Level() logrus.Level {
	if c.Debug {
		return logrus.DebugLevel
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// EmailEnabled reports whether an SMTP sink can be built.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != ""
}

func (c *Config) validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	switch strings.ToLower(c.StorageBackend) {
	case "memory", "sqlite":
	case "azure":
		if c.StorageAccount == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT is required when STORAGE_BACKEND is azure")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when STORAGE_BACKEND is redis")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be 'memory', 'sqlite', 'azure' or 'redis'")
	}
	c.StorageBackend = strings.ToLower(c.StorageBackend)

	if c.MinInterval <= 0 {
		return fmt.Errorf("MIN_INTERVAL must be positive")
	}
	if c.FallbackDelay <= 0 {
		return fmt.Errorf("FALLBACK_DELAY must be positive")
	}
	if c.RequestDelay < 0 || c.SourceDelay < 0 {
		return fmt.Errorf("REQUEST_DELAY and SOURCE_DELAY must not be negative")
	}

	if c.HeartbeatSchedule != "" && c.HeartbeatChannel == "" {
		return fmt.Errorf("HEARTBEAT_CHANNEL is required when HEARTBEAT_SCHEDULE is set")
	}

	if (c.RedditClientID == "") != (c.RedditClientSecret == "") {
		return fmt.Errorf("REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET must be set together")
	}

	if c.SMTPHost != "" {
		if c.SMTPUsername == "" || c.SMTPPassword == "" || c.SMTPFrom == "" {
			return fmt.Errorf("SMTP_USERNAME, SMTP_PASSWORD and SMTP_FROM are required when SMTP_HOST is set")
		}
	}

	return nil
}
