// Package relay forwards row changes from the database to a message bus so gateway
// instances can subscribe without holding their own LISTEN connections.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/changefeed"
	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
)

type Config struct {
	MaxRetries      int
	RetryDelay      time.Duration
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:      5,
		RetryDelay:      200 * time.Millisecond,
		RestartDelay:    time.Second,
		MaxRestartDelay: 30 * time.Second,
	}
}

// Publisher is a bus the relay writes to.
type Publisher interface {
	Publish(ctx context.Context, ev feed.Event) error
}

// Relay is a changefeed.Sink that republishes every event.
type Relay struct {
	publisher Publisher
	cfg       Config

	mu        sync.Mutex
	relayed   uint64
	failed    uint64
	lastEvent time.Time
	status    feed.Status
}

var _ changefeed.Sink = (*Relay)(nil)

func New(publisher Publisher, cfg Config) *Relay {
	return &Relay{publisher: publisher, cfg: cfg, status: feed.StatusDisconnected}
}

// Run feeds src into the relay until ctx ends, restarting the source when it fails.
func (r *Relay) Run(ctx context.Context, src changefeed.Source) error {
	for attempt := 1; ; attempt++ {
		err := src.Run(ctx, r)
		if ctx.Err() != nil {
			return nil
		}
		r.SetStatus(feed.StatusDisconnected)

		delay := r.cfg.RestartDelay * time.Duration(attempt)
		if delay > r.cfg.MaxRestartDelay {
			delay = r.cfg.MaxRestartDelay
		}
		log.Error().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("relay source failed, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// Publish forwards ev with retries. A failure is logged and counted but not returned
// to the source: subscribers recover lost events by reconciling.
func (r *Relay) Publish(ctx context.Context, ev feed.Event) error {
	err := r.publishWithRetry(ctx, ev)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed++
		log.Error().Err(err).Str("table", string(ev.Table)).Msg("failed to relay event")
		return nil
	}
	r.relayed++
	r.lastEvent = time.Now()
	return nil
}

// SetStatus records the source's connection state.
func (r *Relay) SetStatus(st feed.Status) {
	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
	log.Info().Str("status", st.String()).Msg("relay source status")
}

// Stats returns relayed and failed counts, the time of the last relayed event and the
// source status.
func (r *Relay) Stats() (relayed, failed uint64, lastEvent time.Time, status feed.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relayed, r.failed, r.lastEvent, r.status
}

// publishWithRetry attempts to publish an event with a linear back-off between attempts.
func (r *Relay) publishWithRetry(ctx context.Context, ev feed.Event) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := r.publisher.Publish(ctx, ev); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("table", string(ev.Table)).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("table", string(ev.Table)).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
