package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/changefeed/natsbus"
	"github.com/mcdev12/pollsync/go/internal/changefeed/pgsource"
	"github.com/mcdev12/pollsync/go/internal/changefeed/redisbus"
	"github.com/mcdev12/pollsync/go/internal/dbconfig"
	"github.com/mcdev12/pollsync/go/internal/relay"
	"github.com/mcdev12/pollsync/go/internal/store/postgres"
)

type publisher interface {
	relay.Publisher
	Close() error
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	cfg := dbconfig.NewConfigFromEnv()
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}
	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to database")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub, err := newPublisher(ctx, getEnv("RELAY_BUS", "nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("create bus publisher")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Error().Err(err).Msg("close publisher")
		}
	}()

	srcCfg := pgsource.DefaultConfig()
	srcCfg.DSN = cfg.DSN()
	if iv := os.Getenv("LISTENER_PING_INTERVAL"); iv != "" {
		if d, err := time.ParseDuration(iv); err == nil {
			srcCfg.PingInterval = d
		}
	}
	src := pgsource.New(srcCfg, postgres.NewRepository(db).Queries())

	r := relay.New(pub, relay.DefaultConfig())

	mux := http.NewServeMux()
	mux.Handle("/health", relay.NewHealthChecker(r, db))
	server := &http.Server{
		Addr:         ":" + getEnv("RELAY_HEALTH_PORT", "8082"),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	log.Info().Str("channel", srcCfg.Channel).Msg("starting change relay")
	if err := r.Run(ctx, src); err != nil {
		log.Error().Err(err).Msg("relay exited unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown failed")
	}
	relayed, failed, _, _ := r.Stats()
	log.Info().Uint64("relayed", relayed).Uint64("failed", failed).Msg("graceful shutdown complete")
}

func newPublisher(ctx context.Context, bus string) (publisher, error) {
	switch bus {
	case "redis":
		cfg := redisbus.DefaultConfig()
		cfg.URL = getEnv("REDIS_URL", cfg.URL)
		client, err := redisbus.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("redis_url", cfg.URL).Msg("relaying to Redis")
		return redisbus.NewPublisher(client, cfg), nil
	default:
		cfg := natsbus.DefaultConfig()
		cfg.URL = getEnv("NATS_URL", cfg.URL)
		log.Info().Str("nats_url", cfg.URL).Msg("relaying to NATS JetStream")
		return natsbus.NewPublisher(ctx, cfg)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
