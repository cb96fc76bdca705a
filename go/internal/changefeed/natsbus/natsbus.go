// Package natsbus carries change events over NATS JetStream.
package natsbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/changefeed"
	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
)

type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int           // Number of replicas for the stream
	DuplicateWindow time.Duration // Window for duplicate detection
	BufferSize      int           // Source-side message buffer
}

func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "POLLSYNC_CHANGES",
		SubjectPrefix:   "pollsync.changes",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1, // No limit
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		BufferSize:      256,
	}
}

// Subject returns the subject events for table are published on.
func Subject(prefix string, table feed.Table) string {
	return fmt.Sprintf("%s.%s", prefix, table)
}

// connect dials NATS. onStatus, if set, receives disconnect and reconnect events.
func connect(cfg Config, onStatus func(feed.Status)) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			if onStatus != nil {
				onStatus(feed.StatusDisconnected)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			if onStatus != nil {
				onStatus(feed.StatusReconnected)
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

func streamConfig(cfg Config) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Row change events for live polls",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		MaxMsgs:     cfg.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	sc := streamConfig(cfg)

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		if _, err = js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", cfg.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgs == b.MaxMsgs &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}

// Publisher writes change events to the stream.
type Publisher struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg Config
}

func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	nc, err := connect(cfg, nil)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &Publisher{nc: nc, js: js, cfg: cfg}, nil
}

// Publish sends ev. The content hash is the message id, so a retried publish within
// the duplicate window is stored once.
func (p *Publisher) Publish(ctx context.Context, ev feed.Event) error {
	data, err := changefeed.Encode(ev)
	if err != nil {
		return err
	}
	subject := Subject(p.cfg.SubjectPrefix, ev.Table)
	id := changefeed.EventID(data)

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(ev.EventType)},
			"Table":      []string{string(ev.Table)},
		},
	},
		jetstream.WithMsgID(id),
		jetstream.WithExpectStream(p.cfg.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", id).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published to JetStream")
	return nil
}

func (p *Publisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// Source reads new events from the stream with an ordered consumer. It starts at the
// tail: anything older is covered by the engine's reconcile read.
type Source struct {
	cfg Config
}

var _ changefeed.Source = (*Source)(nil)

func NewSource(cfg Config) *Source {
	return &Source{cfg: cfg}
}

func (s *Source) Run(ctx context.Context, sink changefeed.Sink) error {
	nc, err := connect(s.cfg, sink.SetStatus)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	if err := ensureStream(ctx, js, s.cfg); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}

	consumer, err := js.OrderedConsumer(ctx, s.cfg.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.cfg.SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	messageCh := make(chan jetstream.Msg, s.cfg.BufferSize)
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	sink.SetStatus(feed.StatusConnected)
	log.Info().
		Str("stream", s.cfg.StreamName).
		Str("subjects", s.cfg.SubjectPrefix+".>").
		Msg("consuming change events from JetStream")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("JetStream source shutting down")
			return nil
		case msg := <-messageCh:
			if err := forward(ctx, sink, msg.Data()); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
			}
		}
	}
}

func forward(ctx context.Context, sink changefeed.Sink, data []byte) error {
	ev, err := changefeed.Decode(data)
	if err != nil {
		return err
	}
	return sink.Publish(ctx, ev)
}
