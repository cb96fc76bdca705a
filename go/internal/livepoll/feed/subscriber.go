package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/models"
)

// Sink receives the typed observations produced from raw change events.
type Sink interface {
	// PollObserved is called for every parsed INSERT or UPDATE on polls.
	PollObserved(ctx context.Context, poll *models.Poll, inserted bool)
	// PollRemoved is called when a polls row is deleted.
	PollRemoved(ctx context.Context, pollID string)
	// VotesChanged is called when a vote is recorded. pollID is empty if the row
	// could not be parsed, in which case the sink should recount its current poll.
	VotesChanged(ctx context.Context, pollID string)
	// ParticipantsChanged is called on any participants change.
	ParticipantsChanged(ctx context.Context, changed *models.Participant)
	// ChatMessageObserved is called for every parsed chat insert.
	ChatMessageObserved(ctx context.Context, msg models.ChatMessage)
}

// Subscriber opens one subscription per table and routes each event to a Sink.
// Malformed rows are logged and dropped.
type Subscriber struct {
	feed Feed
	sink Sink

	mu   sync.Mutex
	subs []Subscription
}

// NewSubscriber creates a subscriber for f that forwards to sink.
func NewSubscriber(f Feed, sink Sink) *Subscriber {
	return &Subscriber{feed: f, sink: sink}
}

// Start subscribes to every table. On failure any subscriptions already opened are
// closed again.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.subs) > 0 {
		return nil
	}

	for _, table := range Tables {
		sub, err := s.feed.Subscribe(ctx, table, s.Handle)
		if err != nil {
			for _, opened := range s.subs {
				opened.Unsubscribe()
			}
			s.subs = nil
			return fmt.Errorf("failed to subscribe to %s: %w", table, err)
		}
		s.subs = append(s.subs, sub)
	}

	log.Debug().Int("tables", len(s.subs)).Msg("Change feed subscriptions opened")
	return nil
}

// Stop cancels every subscription. It is safe to call more than once.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Handle routes a single event. It is exported so transports and tests can inject
// events directly.
func (s *Subscriber) Handle(ctx context.Context, ev Event) {
	switch ev.Table {
	case TablePolls:
		s.handlePoll(ctx, ev)
	case TableVotes:
		s.handleVote(ctx, ev)
	case TableParticipants:
		s.handleParticipant(ctx, ev)
	case TableChat:
		s.handleChat(ctx, ev)
	default:
		log.Debug().Str("table", string(ev.Table)).Msg("Ignoring event for unknown table")
	}
}

func (s *Subscriber) handlePoll(ctx context.Context, ev Event) {
	switch ev.EventType {
	case EventInsert, EventUpdate:
		poll, err := ParsePoll(ev.New)
		if err != nil {
			dropped(ev, err)
			return
		}
		s.sink.PollObserved(ctx, poll, ev.EventType == EventInsert)
	case EventDelete:
		id, err := ParsePollID(ev.Old)
		if err != nil {
			dropped(ev, err)
			return
		}
		s.sink.PollRemoved(ctx, id)
	}
}

func (s *Subscriber) handleVote(ctx context.Context, ev Event) {
	if ev.EventType != EventInsert {
		return
	}
	vote, err := ParseVote(ev.New)
	if err != nil {
		// The insert still happened, so recount whatever poll is current.
		log.Warn().Err(err).Msg("Vote row unreadable, recounting current poll")
		s.sink.VotesChanged(ctx, "")
		return
	}
	s.sink.VotesChanged(ctx, vote.PollID)
}

func (s *Subscriber) handleParticipant(ctx context.Context, ev Event) {
	raw := ev.New
	if ev.EventType == EventDelete {
		raw = ev.Old
	}
	participant, err := ParseParticipant(raw)
	if err != nil {
		participant = nil
	}
	s.sink.ParticipantsChanged(ctx, participant)
}

func (s *Subscriber) handleChat(ctx context.Context, ev Event) {
	if ev.EventType != EventInsert {
		return
	}
	msg, err := ParseChatMessage(ev.New)
	if err != nil {
		dropped(ev, err)
		return
	}
	s.sink.ChatMessageObserved(ctx, *msg)
}

func dropped(ev Event, err error) {
	log.Warn().
		Err(err).
		Str("table", string(ev.Table)).
		Str("event_type", string(ev.EventType)).
		Msg("Dropping malformed change event")
}
