package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var ErrNoFeeds = errors.New("either FEEDS_FILE or SOURCES must be set")

// Config holds the application configuration
type Config struct {
	// Sources are Beast TCP receivers merged into one feed when no feeds
	// file is given
	Sources   []string
	FeedsFile string
	NatsURL   string
	RedisAddr string
	DBConnStr string
	OutputDir string
	LogLevel  logrus.Level
}

// Load loads the configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		FeedsFile: os.Getenv("FEEDS_FILE"),
		NatsURL:   getEnv("NATS_URL", "nats://localhost:4222"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		DBConnStr: os.Getenv("DB_CONN_STR"),
		OutputDir: getEnv("OUTPUT_DIR", "./logs"),
		LogLevel:  logrus.InfoLevel,
	}

	if sources := os.Getenv("SOURCES"); sources != "" {
		for _, s := range strings.Split(sources, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Sources = append(cfg.Sources, s)
			}
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = parsed
	}

	return cfg, nil
}

// Feeds returns the feeds to run, read from FeedsFile or built from Sources
func (c *Config) Feeds() ([]FeedConfig, error) {
	if c.FeedsFile != "" {
		return LoadFeeds(c.FeedsFile)
	}
	if len(c.Sources) == 0 {
		return nil, ErrNoFeeds
	}

	feed := DefaultFeedConfig()
	feed.Name = "default"
	for i, source := range c.Sources {
		r := DefaultReceiverConfig()
		r.Name = fmt.Sprintf("receiver-%d", i+1)
		r.Address = source
		feed.Receivers = append(feed.Receivers, r)
	}
	if err := feed.Validate(); err != nil {
		return nil, err
	}
	return []FeedConfig{feed}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
