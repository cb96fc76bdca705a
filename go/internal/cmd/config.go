package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/pollsync/go/internal/livepoll/policy"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"

	feedPostgres = "postgres"
	feedNATS     = "nats"
	feedRedis    = "redis"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	Server struct {
		Port           string        `yaml:"port"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		IdleTimeout    time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Store struct {
		Driver      string `yaml:"driver"`
		AutoMigrate bool   `yaml:"auto_migrate"`
	} `yaml:"store"`

	// Feed is ignored by the memory store, which is its own change feed.
	Feed struct {
		Source   string `yaml:"source"`
		NATSURL  string `yaml:"nats_url"`
		RedisURL string `yaml:"redis_url"`
	} `yaml:"feed"`

	Policy policy.Config `yaml:"policy"`

	Countdown struct {
		TickInterval time.Duration `yaml:"tick_interval"`
	} `yaml:"countdown"`
}

func defaultConfig() *Config {
	cfg := &Config{LogLevel: "info", Policy: policy.DefaultConfig()}
	cfg.Server.Port = "8080"
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.IdleTimeout = 120 * time.Second
	cfg.Store.Driver = storePostgres
	cfg.Feed.Source = feedPostgres
	cfg.Feed.NATSURL = "nats://localhost:4222"
	cfg.Feed.RedisURL = "redis://localhost:6379/0"
	cfg.Countdown.TickInterval = time.Second
	return cfg
}

// loadConfig reads path over the defaults. A missing file leaves the defaults in place.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.AutoMigrate = getEnvAsBool("AUTO_MIGRATE", c.Store.AutoMigrate)
	c.Feed.Source = getEnv("FEED_SOURCE", c.Feed.Source)
	c.Feed.NATSURL = getEnv("NATS_URL", c.Feed.NATSURL)
	c.Feed.RedisURL = getEnv("REDIS_URL", c.Feed.RedisURL)
	c.Policy.DefaultTimeLimit = getEnvAsInt("DEFAULT_TIME_LIMIT_SEC", c.Policy.DefaultTimeLimit)
	c.Policy.ChatHistoryLimit = getEnvAsInt("CHAT_HISTORY_LIMIT", c.Policy.ChatHistoryLimit)
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case storeMemory, storePostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Feed.Source {
	case feedPostgres, feedNATS, feedRedis:
	default:
		return fmt.Errorf("unknown feed source %q", c.Feed.Source)
	}
	if c.Policy.MinTimeLimit <= 0 || c.Policy.MinTimeLimit > c.Policy.MaxTimeLimit {
		return fmt.Errorf("invalid time limit range %d..%d", c.Policy.MinTimeLimit, c.Policy.MaxTimeLimit)
	}
	if c.Policy.DefaultTimeLimit < c.Policy.MinTimeLimit || c.Policy.DefaultTimeLimit > c.Policy.MaxTimeLimit {
		return fmt.Errorf("default time limit %d outside %d..%d",
			c.Policy.DefaultTimeLimit, c.Policy.MinTimeLimit, c.Policy.MaxTimeLimit)
	}
	if c.Countdown.TickInterval <= 0 {
		return fmt.Errorf("countdown tick interval must be positive")
	}
	return nil
}

// Level returns the configured log level, falling back to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
