package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	config, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", config.Server.Port)
	assert.Equal(t, storePostgres, config.Store.Driver)
	assert.Equal(t, feedPostgres, config.Feed.Source)
	assert.Equal(t, 60, config.Policy.DefaultTimeLimit)
	assert.Equal(t, 10, config.Policy.MinTimeLimit)
	assert.Equal(t, 300, config.Policy.MaxTimeLimit)
	assert.Equal(t, time.Second, config.Countdown.TickInterval)
	assert.Equal(t, zerolog.InfoLevel, config.Level())
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  port: "9090"
  allowed_origins: ["https://class.example.com"]
  read_timeout: 5s
store:
  driver: memory
feed:
  source: nats
  nats_url: nats://bus:4222
policy:
  min_time_limit_sec: 5
  max_time_limit_sec: 120
  default_time_limit_sec: 30
  chat_history_limit: 20
countdown:
  tick_interval: 500ms
`)

	config, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, config.Level())
	assert.Equal(t, "9090", config.Server.Port)
	assert.Equal(t, []string{"https://class.example.com"}, config.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, config.Server.WriteTimeout)
	assert.Equal(t, storeMemory, config.Store.Driver)
	assert.Equal(t, feedNATS, config.Feed.Source)
	assert.Equal(t, "nats://bus:4222", config.Feed.NATSURL)
	assert.Equal(t, 30, config.Policy.DefaultTimeLimit)
	assert.Equal(t, 20, config.Policy.ChatHistoryLimit)
	assert.Equal(t, 200, config.Policy.MaxQuestionLen, "unset keys keep their defaults")
	assert.Equal(t, 500*time.Millisecond, config.Countdown.TickInterval)
}

func TestLoadConfig_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9090\"\nfeed:\n  source: nats\n")
	t.Setenv("PORT", "7070")
	t.Setenv("FEED_SOURCE", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("DEFAULT_TIME_LIMIT_SEC", "not-a-number")

	config, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", config.Server.Port)
	assert.Equal(t, feedRedis, config.Feed.Source)
	assert.Equal(t, "redis://cache:6379/1", config.Feed.RedisURL)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, config.Server.AllowedOrigins)
	assert.True(t, config.Store.AutoMigrate)
	assert.Equal(t, 60, config.Policy.DefaultTimeLimit)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"store driver", "store:\n  driver: mongo\n"},
		{"feed source", "feed:\n  source: kafka\n"},
		{"time range", "policy:\n  min_time_limit_sec: 400\n"},
		{"default outside range", "policy:\n  default_time_limit_sec: 5\n"},
		{"tick", "countdown:\n  tick_interval: 0s\n"},
		{"yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestConfigLevel_Fallback(t *testing.T) {
	config := defaultConfig()
	config.LogLevel = "loud"
	assert.Equal(t, zerolog.InfoLevel, config.Level())

	config.LogLevel = "warn"
	assert.Equal(t, zerolog.WarnLevel, config.Level())
}
