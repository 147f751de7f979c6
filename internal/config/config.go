// Package config loads the bot configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"goals-telegram/internal/storage"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	HTTP     HTTPConfig     `yaml:"http"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
	// APIURL is the Bot API base, without the /bot<token> suffix.
	APIURL string `yaml:"api_url"`
	// PollTimeout is the long-poll timeout passed to getUpdates, in seconds.
	PollTimeout int `yaml:"poll_timeout"`
	// Workers > 1 handles distinct chats concurrently.
	Workers int `yaml:"workers"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// RedisConfig selects the session backend. Empty URL keeps sessions in
// process memory.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig enables goal events when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			APIURL:      "https://api.telegram.org",
			PollTimeout: 60,
			Workers:     1,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			URL:    "postgres://localhost:5432/goals?sslmode=disable",
		},
		Redis: RedisConfig{
			SessionTTL: 24 * time.Hour,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		NATS: NATSConfig{Subject: "goals.created"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (skipped when empty) over the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("TELEGRAM_BOT_TOKEN", &c.Telegram.Token)
	str("TELEGRAM_API_URL", &c.Telegram.APIURL)
	if err := num("TELEGRAM_POLL_TIMEOUT", &c.Telegram.PollTimeout); err != nil {
		return err
	}
	if err := num("POLL_WORKERS", &c.Telegram.Workers); err != nil {
		return err
	}
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_URL", &c.Redis.URL)
	if v, ok := lookup("SESSION_TTL"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("SESSION_TTL: %w", err)
		}
		c.Redis.SessionTTL = d
	}
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("NATS_URL", &c.NATS.URL)
	str("NATS_SUBJECT", &c.NATS.Subject)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	return nil
}

// Validate checks the settings every command needs. The token is only
// required by commands that talk to Telegram, see ValidateBot.
func (c *Config) Validate() error {
	if _, err := storage.ParseDialect(c.Database.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) ValidateBot() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required (TELEGRAM_BOT_TOKEN)")
	}
	if c.Telegram.PollTimeout < 1 {
		return errors.New("telegram.poll_timeout must be at least 1")
	}
	if c.Telegram.Workers < 1 {
		return errors.New("telegram.workers must be at least 1")
	}
	if c.Redis.URL != "" && c.Redis.SessionTTL <= 0 {
		return errors.New("redis.session_ttl must be positive")
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// NewLogger builds the process logger. Validate has already rejected bad
// levels and formats, so unknown values fall back to info/text here.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
