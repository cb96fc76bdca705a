// Package pgsource reads row changes from Postgres LISTEN/NOTIFY.
package pgsource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/changefeed"
	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
	"github.com/mcdev12/pollsync/go/internal/store/postgres"
)

type Config struct {
	DSN                  string        // Postgres DSN for LISTEN/NOTIFY
	Channel              string        // Channel name to LISTEN on
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
}

func DefaultConfig() Config {
	return Config{
		Channel:              postgres.NotifyChannel,
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}

// RowFetcher loads a row when the notification only carried its id.
type RowFetcher interface {
	RowJSON(ctx context.Context, table feed.Table, id string) (json.RawMessage, error)
}

// Source is a changefeed.Source backed by pq.Listener.
type Source struct {
	cfg  Config
	rows RowFetcher
}

var _ changefeed.Source = (*Source)(nil)

func New(cfg Config, rows RowFetcher) *Source {
	return &Source{cfg: cfg, rows: rows}
}

// Run listens until ctx is done. Listener connection events are reported to sink as
// status changes; a reconnect means notifications may have been lost.
func (s *Source) Run(ctx context.Context, sink changefeed.Sink) error {
	l := pq.NewListener(
		s.cfg.DSN,
		s.cfg.MinReconnectInterval,
		s.cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
			if st, ok := statusFor(ev); ok {
				sink.SetStatus(st)
			}
		},
	)
	defer l.Close()

	if err := l.Listen(s.cfg.Channel); err != nil {
		return fmt.Errorf("failed to listen to channel: %w", err)
	}
	sink.SetStatus(feed.StatusConnected)

	log.Info().
		Str("channel", s.cfg.Channel).
		Dur("ping_interval", s.cfg.PingInterval).
		Msg("listening for row changes")

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return nil
		case note := <-l.Notify:
			if note == nil {
				// connection was lost and re-established; the event callback reported it
				continue
			}
			if err := s.handleNotification(ctx, sink, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-pingTicker.C:
			if err := l.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func statusFor(ev pq.ListenerEventType) (feed.Status, bool) {
	switch ev {
	case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
		return feed.StatusDisconnected, true
	case pq.ListenerEventReconnected:
		return feed.StatusReconnected, true
	case pq.ListenerEventConnected:
		return feed.StatusConnected, true
	}
	return 0, false
}

// notification is the trigger payload. Oversized rows arrive with only ID set.
type notification struct {
	EventType feed.EventType  `json:"eventType"`
	Table     feed.Table      `json:"table"`
	New       json.RawMessage `json:"new"`
	Old       json.RawMessage `json:"old"`
	ID        string          `json:"id"`
}

// handleNotification decodes a trigger payload, refetching the row if needed, and
// publishes it to sink.
func (s *Source) handleNotification(ctx context.Context, sink changefeed.Sink, extra string) error {
	var n notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}
	if !changefeed.KnownTable(n.Table) {
		return fmt.Errorf("%w: %q", changefeed.ErrUnknownTable, n.Table)
	}

	ev := feed.Event{EventType: n.EventType, Table: n.Table, New: n.New, Old: n.Old}
	if n.ID != "" && len(n.New) == 0 && len(n.Old) == 0 {
		if n.EventType == feed.EventDelete {
			ev.Old = json.RawMessage(fmt.Sprintf(`{"id":%q}`, n.ID))
		} else {
			row, err := s.rows.RowJSON(ctx, n.Table, n.ID)
			if err != nil {
				return fmt.Errorf("failed to fetch %s row %s: %w", n.Table, n.ID, err)
			}
			ev.New = row
		}
		log.Debug().Str("table", string(n.Table)).Str("id", n.ID).Msg("refetched oversized row")
	}

	if err := sink.Publish(ctx, ev); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}
