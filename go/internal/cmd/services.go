package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/changefeed"
	"github.com/mcdev12/pollsync/go/internal/changefeed/natsbus"
	"github.com/mcdev12/pollsync/go/internal/changefeed/pgsource"
	"github.com/mcdev12/pollsync/go/internal/changefeed/redisbus"
	"github.com/mcdev12/pollsync/go/internal/dbconfig"
	"github.com/mcdev12/pollsync/go/internal/gateway"
	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
	"github.com/mcdev12/pollsync/go/internal/store"
	"github.com/mcdev12/pollsync/go/internal/store/memstore"
	"github.com/mcdev12/pollsync/go/internal/store/postgres"
)

// Services is everything main starts and stops.
type Services struct {
	Gateway *gateway.Service
	closers []func()
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// setupServices wires store → change feed → gateway. The broker runs until ctx ends.
func setupServices(ctx context.Context, config *Config, clock clockwork.Clock) (*Services, error) {
	services := &Services{}

	gwConfig := gateway.DefaultConfig()
	gwConfig.AllowedOrigins = config.Server.AllowedOrigins
	gwConfig.Engine.Policy = config.Policy
	gwConfig.Engine.Countdown.TickInterval = config.Countdown.TickInterval

	if config.Store.Driver == storeMemory {
		log.Warn().Msg("using in-memory store; state is lost on restart and not shared between instances")
		ms := memstore.New(memstore.Config{Clock: clock})
		services.Gateway = gateway.NewService(gwConfig, ms, ms, clock)
		return services, nil
	}

	dbConfig := dbconfig.NewConfigFromEnv()
	db, err := setupDatabase(dbConfig, config.Store.AutoMigrate)
	if err != nil {
		return nil, err
	}
	services.closers = append(services.closers, func() { db.Close() })

	repo := postgres.NewRepository(db)
	src, err := setupFeedSource(config, dbConfig, repo, services)
	if err != nil {
		services.Close()
		return nil, err
	}

	broker := changefeed.NewBroker(changefeed.DefaultBrokerConfig())
	go func() {
		if err := broker.Run(ctx, src); err != nil {
			log.Error().Err(err).Msg("change feed stopped")
		}
	}()

	gwConfig.FeedStats = func() any { return broker.Stats() }
	services.Gateway = gateway.NewService(gwConfig, store.Store(repo), feed.Feed(broker), clock)
	return services, nil
}

func setupFeedSource(config *Config, dbConfig dbconfig.Config, repo *postgres.Repository, services *Services) (changefeed.Source, error) {
	switch config.Feed.Source {
	case feedNATS:
		cfg := natsbus.DefaultConfig()
		cfg.URL = config.Feed.NATSURL
		log.Info().Str("nats_url", cfg.URL).Msg("consuming change feed from NATS")
		return natsbus.NewSource(cfg), nil

	case feedRedis:
		cfg := redisbus.DefaultConfig()
		cfg.URL = config.Feed.RedisURL
		client, err := redisbus.NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		services.closers = append(services.closers, func() { client.Close() })
		log.Info().Str("redis_url", cfg.URL).Msg("consuming change feed from Redis")
		return redisbus.NewSource(client, cfg), nil

	default:
		cfg := pgsource.DefaultConfig()
		cfg.DSN = dbConfig.DSN()
		log.Info().Str("channel", cfg.Channel).Msg("listening for changes in Postgres")
		return pgsource.New(cfg, repo.Queries()), nil
	}
}
