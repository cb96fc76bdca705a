package livepoll

import (
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll/state"
)

// NoticeKind classifies a transient user-facing notice.
type NoticeKind string

const (
	NoticeInfo     NoticeKind = "info"
	NoticeRejected NoticeKind = "rejected"
	NoticeError    NoticeKind = "error"
	NoticeKicked   NoticeKind = "kicked"
)

// Notice is a transient message for the user. It never carries state.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

const noticeBuffer = 32

// Watcher observes an engine. States is latest-wins: a slow reader only ever sees the
// newest snapshot.
type Watcher struct {
	engine  *Engine
	id      int
	states  chan state.State
	notices chan Notice
}

// States delivers state snapshots. The channel is closed by Close.
func (w *Watcher) States() <-chan state.State {
	return w.states
}

// Notices delivers notices in order. The channel is closed by Close.
func (w *Watcher) Notices() <-chan Notice {
	return w.notices
}

// Close unregisters the watcher and closes its channels.
func (w *Watcher) Close() {
	e := w.engine
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	if _, ok := e.watchers[w.id]; !ok {
		return
	}
	delete(e.watchers, w.id)
	close(w.states)
	close(w.notices)
}

// Watch registers a watcher. The current state is delivered immediately.
func (e *Engine) Watch() *Watcher {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	e.nextWatcher++
	w := &Watcher{
		engine:  e,
		id:      e.nextWatcher,
		states:  make(chan state.State, 1),
		notices: make(chan Notice, noticeBuffer),
	}
	e.watchers[w.id] = w
	w.states <- e.state
	return w
}

// broadcastLocked must be called with e.mu held so snapshots go out in order.
func (e *Engine) broadcastLocked(s state.State) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	for _, w := range e.watchers {
		offerLatest(w.states, s)
	}
}

func (e *Engine) notify(kind NoticeKind, msg string) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	for _, w := range e.watchers {
		select {
		case w.notices <- Notice{Kind: kind, Message: msg}:
		default:
			log.Warn().Str("session_id", e.id).Str("kind", string(kind)).Msg("Notice dropped, watcher is not reading")
		}
	}
}

// offerLatest replaces any unread value. Callers are serialized by watchMu.
func offerLatest(ch chan state.State, s state.State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
