package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
)

type BrokerConfig struct {
	QueueSize    int           // Per-subscription event buffer
	StatusBuffer int           // Per-listener status buffer
	RestartDelay time.Duration // Base delay before restarting a failed source
	MaxRestarts  int           // -1 for unlimited
}

func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		QueueSize:    256,
		StatusBuffer: 8,
		RestartDelay: time.Second,
		MaxRestarts:  -1,
	}
}

// BrokerStats is a point-in-time view of the broker.
type BrokerStats struct {
	Status        string `json:"status"`
	Subscriptions int    `json:"subscriptions"`
	Listeners     int    `json:"listeners"`
	Published     uint64 `json:"published"`
	Dropped       uint64 `json:"dropped"`
}

// Broker fans events from one Source out to any number of per-table subscriptions.
// Each subscription has its own queue and goroutine, so a slow session never blocks
// the source. A full queue drops the event and tells status listeners to reconcile.
type Broker struct {
	cfg BrokerConfig

	mu        sync.Mutex
	nextID    uint64
	subs      map[feed.Table]map[uint64]*subscription
	listeners map[uint64]*statusListener
	status    feed.Status

	published atomic.Uint64
	dropped   atomic.Uint64
}

var (
	_ feed.Feed           = (*Broker)(nil)
	_ feed.StatusNotifier = (*Broker)(nil)
	_ Sink                = (*Broker)(nil)
)

func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultBrokerConfig().QueueSize
	}
	if cfg.StatusBuffer <= 0 {
		cfg.StatusBuffer = DefaultBrokerConfig().StatusBuffer
	}
	return &Broker{
		cfg:       cfg,
		subs:      make(map[feed.Table]map[uint64]*subscription),
		listeners: make(map[uint64]*statusListener),
		status:    feed.StatusDisconnected,
	}
}

// Subscribe registers handler for table. The handler runs on the subscription's own
// goroutine until Unsubscribe is called or ctx is done.
func (b *Broker) Subscribe(ctx context.Context, table feed.Table, handler feed.Handler) (feed.Subscription, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	if !KnownTable(table) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		table:   table,
		handler: handler,
		queue:   make(chan feed.Event, b.cfg.QueueSize),
		done:    make(chan struct{}),
	}
	sub.remove = func() { b.removeSubscription(sub) }
	if b.subs[table] == nil {
		b.subs[table] = make(map[uint64]*subscription)
	}
	b.subs[table][sub.id] = sub
	b.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

func (b *Broker) removeSubscription(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[sub.table], sub.id)
}

// Publish queues ev on every subscription of its table.
func (b *Broker) Publish(ctx context.Context, ev feed.Event) error {
	if !KnownTable(ev.Table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, ev.Table)
	}

	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs[ev.Table]))
	for _, sub := range b.subs[ev.Table] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	b.published.Add(1)
	overflow := 0
	for _, sub := range targets {
		select {
		case <-sub.done:
		case sub.queue <- ev:
		default:
			overflow++
		}
	}

	if overflow > 0 {
		b.dropped.Add(uint64(overflow))
		log.Warn().
			Str("table", string(ev.Table)).
			Int("subscriptions", overflow).
			Msg("Subscription queue full, event dropped")
		b.notify(feed.StatusReconnected)
	}
	return nil
}

// SetStatus records the transport status and forwards changes to listeners.
func (b *Broker) SetStatus(st feed.Status) {
	b.mu.Lock()
	if b.status == st {
		b.mu.Unlock()
		return
	}
	b.status = st
	b.mu.Unlock()

	log.Info().Str("status", st.String()).Msg("Change feed status")
	b.notify(st)
}

// Status returns the last transport status.
func (b *Broker) Status() feed.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// OnStatus registers fn for status changes. Calls to fn are serialized per listener.
func (b *Broker) OnStatus(fn func(feed.Status)) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	l := &statusListener{
		fn:   fn,
		ch:   make(chan feed.Status, b.cfg.StatusBuffer),
		done: make(chan struct{}),
	}
	b.listeners[id] = l
	b.mu.Unlock()

	go l.run()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
		l.stop()
	}
}

func (b *Broker) notify(st feed.Status) {
	b.mu.Lock()
	listeners := make([]*statusListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l.offer(st)
	}
}

// Stats reports counters for the stats endpoint.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := 0
	for _, m := range b.subs {
		subs += len(m)
	}
	return BrokerStats{
		Status:        b.status.String(),
		Subscriptions: subs,
		Listeners:     len(b.listeners),
		Published:     b.published.Load(),
		Dropped:       b.dropped.Load(),
	}
}

// Run drives src into the broker, restarting it with linear back-off when it fails.
// It returns when ctx is done or the restart budget is spent.
func (b *Broker) Run(ctx context.Context, src Source) error {
	for attempt := 0; ; attempt++ {
		err := src.Run(ctx, b)
		if ctx.Err() != nil {
			return nil
		}
		b.SetStatus(feed.StatusDisconnected)

		if b.cfg.MaxRestarts >= 0 && attempt >= b.cfg.MaxRestarts {
			return fmt.Errorf("change feed source stopped after %d restarts: %w", attempt, err)
		}

		delay := b.cfg.RestartDelay * time.Duration(attempt+1)
		log.Error().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Change feed source failed, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

type subscription struct {
	id      uint64
	table   feed.Table
	handler feed.Handler
	queue   chan feed.Event
	done    chan struct{}
	once    sync.Once
	remove  func()
}

func (s *subscription) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
			return
		case <-s.done:
			return
		case ev := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(ctx, ev)
		}
	}
}

// Unsubscribe stops delivery. It does not wait for an in-flight handler, so it may be
// called from inside one.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.remove()
	})
}

type statusListener struct {
	fn   func(feed.Status)
	ch   chan feed.Status
	done chan struct{}
	once sync.Once
}

func (l *statusListener) run() {
	for {
		select {
		case <-l.done:
			return
		case st := <-l.ch:
			l.fn(st)
		}
	}
}

func (l *statusListener) offer(st feed.Status) {
	select {
	case <-l.done:
	case l.ch <- st:
	default:
		log.Warn().Str("status", st.String()).Msg("Status listener behind, update dropped")
	}
}

func (l *statusListener) stop() {
	l.once.Do(func() { close(l.done) })
}
