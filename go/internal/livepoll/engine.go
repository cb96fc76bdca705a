// Package livepoll is the synchronization engine for one connected client. It owns the
// client's state, applies change-feed events through the reducer, runs the poll
// countdown and exposes the user operations. All coordination with other clients goes
// through the shared store and its change feed.
package livepoll

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll/chat"
	"github.com/mcdev12/pollsync/go/internal/livepoll/countdown"
	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
	"github.com/mcdev12/pollsync/go/internal/livepoll/participants"
	"github.com/mcdev12/pollsync/go/internal/livepoll/policy"
	"github.com/mcdev12/pollsync/go/internal/livepoll/state"
	"github.com/mcdev12/pollsync/go/internal/livepoll/votes"
	"github.com/mcdev12/pollsync/go/internal/store"
)

// ErrClosed is returned by operations on an engine that was disconnected or kicked.
var ErrClosed = errors.New("session is closed")

// Config holds engine settings.
type Config struct {
	Policy    policy.Config
	Countdown countdown.Config
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		Policy:    policy.DefaultConfig(),
		Countdown: countdown.DefaultConfig(),
	}
}

// Engine is one client's view of the live session.
type Engine struct {
	id     string
	store  store.Store
	feed   feed.Feed
	clock  clockwork.Clock
	policy policy.Config

	votes      *votes.Aggregator
	roster     *participants.Tracker
	chat       *chat.Relay
	timer      *countdown.Controller
	subscriber *feed.Subscriber

	mu         sync.Mutex
	state      state.State
	ended      map[string]bool
	runCtx     context.Context
	cancelRun  context.CancelFunc
	stopStatus func()
	leaving    bool
	closed     bool

	watchMu     sync.Mutex
	watchers    map[int]*Watcher
	nextWatcher int
}

var _ feed.Sink = (*Engine)(nil)

// New creates an engine over a store and its change feed. Call Connect to start it.
func New(s store.Store, f feed.Feed, clock clockwork.Clock, cfg Config) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	e := &Engine{
		id:       uuid.NewString(),
		store:    s,
		feed:     f,
		clock:    clock,
		policy:   cfg.Policy,
		votes:    votes.NewAggregator(s),
		roster:   participants.NewTracker(s, clock, cfg.Policy),
		chat:     chat.NewRelay(s, cfg.Policy),
		state:    state.Initial(),
		ended:    make(map[string]bool),
		watchers: make(map[int]*Watcher),
	}
	e.timer = countdown.New(clock, cfg.Countdown, e.onTick, e.onExpire)
	e.subscriber = feed.NewSubscriber(f, e)
	return e
}

// ID identifies the session in logs.
func (e *Engine) ID() string {
	return e.id
}

// State returns the current state. The value must be treated as read-only.
func (e *Engine) State() state.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Connect subscribes to every change stream and then reconciles the full state from
// the store. Subscribing first means nothing written after the read can be missed.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.runCtx != nil {
		e.mu.Unlock()
		return nil
	}
	e.runCtx, e.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := e.runCtx
	e.mu.Unlock()

	if err := e.subscriber.Start(runCtx); err != nil {
		e.mu.Lock()
		e.cancelRun()
		e.runCtx, e.cancelRun = nil, nil
		e.mu.Unlock()
		return e.fail("connect", "Failed to connect to live updates", err)
	}

	if n, ok := e.feed.(feed.StatusNotifier); ok {
		stop := n.OnStatus(e.onFeedStatus)
		e.mu.Lock()
		e.stopStatus = stop
		e.mu.Unlock()
	}

	e.apply(state.SetConnection{Connected: true})
	log.Info().Str("session_id", e.id).Msg("Session connected")

	return e.Reconcile(ctx)
}

func (e *Engine) runContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx == nil {
		return context.Background()
	}
	return e.runCtx
}

// apply reduces actions into the state and publishes the result. It does nothing once
// the engine is closed.
func (e *Engine) apply(actions ...state.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.reduceLocked(actions...)
}

func (e *Engine) reduceLocked(actions ...state.Action) {
	for _, a := range actions {
		e.state = state.Reduce(e.state, a)
	}
	e.broadcastLocked(e.state)
}

func (e *Engine) onFeedStatus(st feed.Status) {
	log.Info().Str("session_id", e.id).Str("status", st.String()).Msg("Change feed status changed")

	switch st {
	case feed.StatusDisconnected:
		e.apply(state.SetConnection{Connected: false})
	case feed.StatusConnected:
		e.apply(state.SetConnection{Connected: true})
	case feed.StatusReconnected:
		e.apply(state.SetConnection{Connected: true})
		if err := e.Reconcile(e.runContext()); err != nil {
			log.Error().Err(err).Str("session_id", e.id).Msg("Reconcile after reconnect failed")
		}
	}
}

func (e *Engine) onTick(pollID string, remaining int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state.ActivePollID() != pollID {
		return
	}
	e.reduceLocked(state.SetTimeRemaining{Seconds: remaining})
}

func (e *Engine) onExpire(pollID string) {
	if err := e.finishPoll(e.runContext(), pollID, false); err != nil {
		log.Error().Err(err).Str("session_id", e.id).Str("poll_id", pollID).Msg("Failed to end expired poll")
	}
}

// teardown stops every background activity and resets the state.
func (e *Engine) teardown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.reduceLocked(state.Reset{})
	e.closed = true
	cancel := e.cancelRun
	stopStatus := e.stopStatus
	e.mu.Unlock()

	e.subscriber.Stop()
	if stopStatus != nil {
		stopStatus()
	}
	e.timer.Cancel()
	if cancel != nil {
		cancel()
	}
	log.Info().Str("session_id", e.id).Msg("Session closed")
}
