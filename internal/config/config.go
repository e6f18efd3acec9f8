// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath  string `envconfig:"DATABASE_PATH" default:"./data/groupwatch.db"`
	StoreBackend  string `envconfig:"STORE_BACKEND" default:"sqlite"` // sqlite|redis
	RedisAddress  string `envconfig:"REDIS_ADDRESS"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`

	ChromePath    string        `envconfig:"CHROME_PATH"`
	Headless      bool          `envconfig:"HEADLESS" default:"true"`
	ScrapeTimeout time.Duration `envconfig:"SCRAPE_TIMEOUT" default:"30s"`
	SettleDelay   time.Duration `envconfig:"SETTLE_DELAY" default:"5s"`
	CheckTimeout  time.Duration `envconfig:"CHECK_TIMEOUT" default:"2m"`
	FeedBridgeURL string        `envconfig:"FEED_BRIDGE_URL"`

	WebhookRate  float64 `envconfig:"WEBHOOK_RATE" default:"1"`
	WebhookBurst int     `envconfig:"WEBHOOK_BURST" default:"2"`

	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	AllowedUsersRaw  string  `envconfig:"ALLOWED_USERS"`
	AllowedUsers     []int64 `ignored:"true"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	users, err := parseUsers(cfg.AllowedUsersRaw)
	if err != nil {
		return nil, err
	}
	cfg.AllowedUsers = users

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseUsers(raw string) ([]int64, error) {
	var users []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		users = append(users, uid)
	}
	return users, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendSQLite:
	case BackendRedis:
		if c.RedisAddress == "" {
			return errors.New("REDIS_ADDRESS is required when STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.FeedBridgeURL != "" && !strings.Contains(c.FeedBridgeURL, "{url}") {
		return errors.New("FEED_BRIDGE_URL must contain the {url} placeholder")
	}
	if c.WebhookRate < 0 {
		return errors.New("WEBHOOK_RATE must not be negative")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BotEnabled reports whether the Telegram console should run.
func (c *Config) BotEnabled() bool {
	return c.TelegramBotToken != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
