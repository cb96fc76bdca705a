// Package redisbus carries change events over Redis pub/sub.
package redisbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/changefeed"
	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
)

type Config struct {
	URL           string
	ChannelPrefix string
	BufferSize    int
}

func DefaultConfig() Config {
	return Config{
		URL:           "redis://localhost:6379/0",
		ChannelPrefix: "pollsync:changes",
		BufferSize:    256,
	}
}

// Channel returns the pub/sub channel for table.
func Channel(prefix string, table feed.Table) string {
	return fmt.Sprintf("%s:%s", prefix, table)
}

// NewClient parses cfg.URL into a client.
func NewClient(cfg Config) (*redis.Client, error) {
	options, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(options), nil
}

// Publisher sends change events with PUBLISH.
type Publisher struct {
	client *redis.Client
	cfg    Config
}

func NewPublisher(client *redis.Client, cfg Config) *Publisher {
	return &Publisher{client: client, cfg: cfg}
}

func (p *Publisher) Publish(ctx context.Context, ev feed.Event) error {
	data, err := changefeed.Encode(ev)
	if err != nil {
		return err
	}
	channel := Channel(p.cfg.ChannelPrefix, ev.Table)

	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}

	log.Debug().Str("channel", channel).Int64("receivers", receivers).Msg("published to redis")
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// Source pattern-subscribes to every table channel. Redis does not buffer messages
// for disconnected subscribers, so every resubscribe is reported as a reconnect.
type Source struct {
	client *redis.Client
	cfg    Config
}

var _ changefeed.Source = (*Source)(nil)

func NewSource(client *redis.Client, cfg Config) *Source {
	return &Source{client: client, cfg: cfg}
}

func (s *Source) Run(ctx context.Context, sink changefeed.Sink) error {
	pattern := s.cfg.ChannelPrefix + ":*"
	pubsub := s.client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", pattern, err)
	}
	sink.SetStatus(feed.StatusConnected)
	log.Info().Str("pattern", pattern).Msg("consuming change events from redis")

	ch := pubsub.ChannelWithSubscriptions(ctx, s.cfg.BufferSize)
	// Receive consumed the initial confirmation
	d := &dispatcher{sink: sink, subscribed: true}
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("redis source shutting down")
			return nil
		case item, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			if err := d.dispatch(ctx, item); err != nil {
				log.Error().Err(err).Msg("failed to process message")
			}
		}
	}
}

// dispatcher turns pub/sub channel items into sink calls.
type dispatcher struct {
	sink       changefeed.Sink
	subscribed bool
}

func (d *dispatcher) dispatch(ctx context.Context, item interface{}) error {
	switch msg := item.(type) {
	case *redis.Subscription:
		if msg.Kind != "psubscribe" {
			return nil
		}
		if d.subscribed {
			d.sink.SetStatus(feed.StatusReconnected)
		}
		d.subscribed = true
		return nil
	case *redis.Message:
		ev, err := changefeed.Decode([]byte(msg.Payload))
		if err != nil {
			return fmt.Errorf("channel %s: %w", msg.Channel, err)
		}
		return d.sink.Publish(ctx, ev)
	default:
		return nil
	}
}
