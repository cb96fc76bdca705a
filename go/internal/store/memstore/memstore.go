// Package memstore is an in-process store that emits the same row-change events as
// the Postgres trigger. It backs the engine tests and the server's memory driver.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
	"github.com/mcdev12/pollsync/go/internal/models"
	"github.com/mcdev12/pollsync/go/internal/store"
)

// Config configures a Store.
type Config struct {
	Clock clockwork.Clock
	// DuplicateDelivery delivers every event twice to exercise idempotent handling.
	DuplicateDelivery bool
}

// Store keeps all tables in memory. Events are delivered synchronously after the
// write that caused them, outside the store lock.
type Store struct {
	clock     clockwork.Clock
	duplicate bool

	mu           sync.Mutex
	participants map[string]models.Participant
	joinOrder    []string
	polls        map[string]*models.Poll
	pollOrder    []string
	votes        map[string][]models.Vote
	chat         []models.ChatMessage
	failures     map[string]error

	subMu     sync.Mutex
	subs      map[feed.Table]map[int]feed.Handler
	nextSubID int
	connected bool
	listeners map[int]func(feed.Status)
}

var (
	_ store.Store         = (*Store)(nil)
	_ feed.Feed           = (*Store)(nil)
	_ feed.StatusNotifier = (*Store)(nil)
)

// New creates an empty Store.
func New(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:        cfg.Clock,
		duplicate:    cfg.DuplicateDelivery,
		participants: make(map[string]models.Participant),
		polls:        make(map[string]*models.Poll),
		votes:        make(map[string][]models.Vote),
		failures:     make(map[string]error),
		subs:         make(map[feed.Table]map[int]feed.Handler),
		connected:    true,
		listeners:    make(map[int]func(feed.Status)),
	}
}

// FailNext makes the next call of the named operation return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) takeFailure(op string) error {
	err, ok := s.failures[op]
	if ok {
		delete(s.failures, op)
	}
	return err
}

// InsertParticipant adds a roster row.
func (s *Store) InsertParticipant(ctx context.Context, p models.Participant) error {
	s.mu.Lock()
	if err := s.takeFailure("InsertParticipant"); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, exists := s.participants[p.ID]; exists {
		s.mu.Unlock()
		return store.ErrDuplicateParticipant
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.clock.Now()
	}
	s.participants[p.ID] = p
	s.joinOrder = append(s.joinOrder, p.ID)
	s.mu.Unlock()

	s.emit(ctx, feed.EventInsert, feed.TableParticipants, p, nil)
	return nil
}

// SetParticipantActive updates the roster flag of an existing participant.
func (s *Store) SetParticipantActive(ctx context.Context, userID string, active bool) error {
	s.mu.Lock()
	if err := s.takeFailure("SetParticipantActive"); err != nil {
		s.mu.Unlock()
		return err
	}
	p, ok := s.participants[userID]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	old := p
	p.IsActive = active
	s.participants[userID] = p
	s.mu.Unlock()

	s.emit(ctx, feed.EventUpdate, feed.TableParticipants, p, old)
	return nil
}

// ListActiveParticipants returns active participants in join order.
func (s *Store) ListActiveParticipants(ctx context.Context) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListActiveParticipants"); err != nil {
		return nil, err
	}

	out := make([]models.Participant, 0, len(s.joinOrder))
	for _, id := range s.joinOrder {
		if p := s.participants[id]; p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

// CreatePoll inserts an active poll unless one is already active.
func (s *Store) CreatePoll(ctx context.Context, req store.CreatePollRequest) (*models.Poll, error) {
	s.mu.Lock()
	if err := s.takeFailure("CreatePoll"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	for _, p := range s.polls {
		if p.IsActive {
			s.mu.Unlock()
			return nil, store.ErrPollAlreadyActive
		}
	}

	poll := &models.Poll{
		ID:        uuid.NewString(),
		Question:  req.Question,
		Options:   models.NewPollOptions(req.Options),
		IsActive:  true,
		TimeLimit: req.TimeLimit,
		CreatedBy: req.CreatedBy,
		CreatedAt: s.clock.Now(),
	}
	s.polls[poll.ID] = poll
	s.pollOrder = append(s.pollOrder, poll.ID)
	row := poll.Clone()
	s.mu.Unlock()

	s.emit(ctx, feed.EventInsert, feed.TablePolls, row, nil)
	return row.Clone(), nil
}

// GetPoll returns a poll by id.
func (s *Store) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetPoll"); err != nil {
		return nil, err
	}
	p, ok := s.polls[pollID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p.Clone(), nil
}

// GetActivePoll returns the active poll or nil.
func (s *Store) GetActivePoll(ctx context.Context) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetActivePoll"); err != nil {
		return nil, err
	}
	for _, id := range s.pollOrder {
		if p := s.polls[id]; p.IsActive {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

// ListEndedPolls returns ended polls newest first. A non-positive limit returns all.
func (s *Store) ListEndedPolls(ctx context.Context, limit int) ([]models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListEndedPolls"); err != nil {
		return nil, err
	}

	var out []models.Poll
	for _, id := range s.pollOrder {
		if p := s.polls[id]; !p.IsActive {
			out = append(out, *p.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdatePollTally stores a recount while the poll is active and the counts changed.
func (s *Store) UpdatePollTally(ctx context.Context, pollID string, options []models.PollOption, total int) (bool, error) {
	s.mu.Lock()
	if err := s.takeFailure("UpdatePollTally"); err != nil {
		s.mu.Unlock()
		return false, err
	}
	p, ok := s.polls[pollID]
	if !ok || !p.IsActive || (p.TotalVotes == total && models.SameTally(p.Options, options)) {
		s.mu.Unlock()
		return false, nil
	}
	old := p.Clone()
	updated := p.Clone()
	updated.Options = options
	updated.TotalVotes = total
	s.polls[pollID] = updated.Clone()
	s.mu.Unlock()

	s.emit(ctx, feed.EventUpdate, feed.TablePolls, updated, old)
	return true, nil
}

// EndPoll recounts and closes the poll. Only the first call for a poll succeeds.
func (s *Store) EndPoll(ctx context.Context, pollID string, endedAt time.Time) (*models.Poll, error) {
	s.mu.Lock()
	if err := s.takeFailure("EndPoll"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	p, ok := s.polls[pollID]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if !p.IsActive {
		s.mu.Unlock()
		return nil, store.ErrPollNotActive
	}

	old := p.Clone()
	ended := p.Clone()
	ended.Options, ended.TotalVotes = models.TallyVotes(p.Options, s.votes[pollID])
	ended.IsActive = false
	ended.EndedAt = &endedAt
	s.polls[pollID] = ended.Clone()
	s.mu.Unlock()

	s.emit(ctx, feed.EventUpdate, feed.TablePolls, ended, old)
	return ended.Clone(), nil
}

// InsertVote records a vote for an active poll, at most once per user.
func (s *Store) InsertVote(ctx context.Context, v models.Vote) error {
	s.mu.Lock()
	if err := s.takeFailure("InsertVote"); err != nil {
		s.mu.Unlock()
		return err
	}
	p, ok := s.polls[v.PollID]
	if !ok || !p.IsActive {
		s.mu.Unlock()
		return store.ErrPollNotActive
	}
	for _, existing := range s.votes[v.PollID] {
		if existing.UserID == v.UserID {
			s.mu.Unlock()
			return store.ErrDuplicateVote
		}
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.clock.Now()
	}
	s.votes[v.PollID] = append(s.votes[v.PollID], v)
	s.mu.Unlock()

	s.emit(ctx, feed.EventInsert, feed.TableVotes, v, nil)
	return nil
}

// ListVotes returns the votes of a poll in insertion order.
func (s *Store) ListVotes(ctx context.Context, pollID string) ([]models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListVotes"); err != nil {
		return nil, err
	}
	return append([]models.Vote(nil), s.votes[pollID]...), nil
}

// GetVote returns a user's vote for a poll or ErrNotFound.
func (s *Store) GetVote(ctx context.Context, pollID, userID string) (*models.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GetVote"); err != nil {
		return nil, err
	}
	for _, v := range s.votes[pollID] {
		if v.UserID == userID {
			vote := v
			return &vote, nil
		}
	}
	return nil, store.ErrNotFound
}

// InsertChatMessage appends a chat line.
func (s *Store) InsertChatMessage(ctx context.Context, req store.CreateChatMessageRequest) (*models.ChatMessage, error) {
	s.mu.Lock()
	if err := s.takeFailure("InsertChatMessage"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Message:   req.Message,
		UserName:  req.UserName,
		UserRole:  req.UserRole,
		CreatedAt: s.clock.Now(),
	}
	s.chat = append(s.chat, msg)
	s.mu.Unlock()

	s.emit(ctx, feed.EventInsert, feed.TableChat, msg, nil)
	return &msg, nil
}

// ListRecentChatMessages returns the newest limit messages, oldest first.
func (s *Store) ListRecentChatMessages(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ListRecentChatMessages"); err != nil {
		return nil, err
	}
	start := 0
	if limit > 0 && len(s.chat) > limit {
		start = len(s.chat) - limit
	}
	return append([]models.ChatMessage(nil), s.chat[start:]...), nil
}

type subscription struct {
	store *Store
	table feed.Table
	id    int
}

func (sub subscription) Unsubscribe() {
	sub.store.subMu.Lock()
	defer sub.store.subMu.Unlock()
	delete(sub.store.subs[sub.table], sub.id)
}

// Subscribe registers handler for events on table.
func (s *Store) Subscribe(ctx context.Context, table feed.Table, handler feed.Handler) (feed.Subscription, error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subs[table] == nil {
		s.subs[table] = make(map[int]feed.Handler)
	}
	s.nextSubID++
	s.subs[table][s.nextSubID] = handler
	return subscription{store: s, table: table, id: s.nextSubID}, nil
}

// OnStatus registers a listener for feed connection changes.
func (s *Store) OnStatus(fn func(feed.Status)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.listeners[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.listeners, id)
	}
}

// SetFeedConnected simulates a feed outage. Events written while disconnected are
// never delivered; reconnecting notifies status listeners so they can reconcile.
func (s *Store) SetFeedConnected(connected bool) {
	s.subMu.Lock()
	was := s.connected
	s.connected = connected
	listeners := make([]func(feed.Status), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()

	if was == connected {
		return
	}
	status := feed.StatusDisconnected
	if connected {
		status = feed.StatusReconnected
	}
	for _, fn := range listeners {
		fn(status)
	}
}

func (s *Store) emit(ctx context.Context, eventType feed.EventType, table feed.Table, newRow, oldRow any) {
	ev := feed.Event{EventType: eventType, Table: table}
	var err error
	if ev.New, err = encodeRow(newRow); err != nil {
		log.Error().Err(err).Str("table", string(table)).Msg("Failed to encode row")
		return
	}
	if ev.Old, err = encodeRow(oldRow); err != nil {
		log.Error().Err(err).Str("table", string(table)).Msg("Failed to encode row")
		return
	}

	s.subMu.Lock()
	if !s.connected {
		s.subMu.Unlock()
		return
	}
	ids := make([]int, 0, len(s.subs[table]))
	for id := range s.subs[table] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]feed.Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, s.subs[table][id])
	}
	s.subMu.Unlock()

	deliveries := 1
	if s.duplicate {
		deliveries = 2
	}
	for i := 0; i < deliveries; i++ {
		for _, h := range handlers {
			h(ctx, ev)
		}
	}
}

func encodeRow(row any) (json.RawMessage, error) {
	if row == nil {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row: %w", err)
	}
	return b, nil
}
