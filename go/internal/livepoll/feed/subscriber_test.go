package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pollsync/go/internal/models"
)

type recordingSink struct {
	mu           sync.Mutex
	polls        []*models.Poll
	inserted     []bool
	removed      []string
	voteChanges  []string
	participants int
	chat         []models.ChatMessage
}

func (r *recordingSink) PollObserved(_ context.Context, p *models.Poll, inserted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls = append(r.polls, p)
	r.inserted = append(r.inserted, inserted)
}

func (r *recordingSink) PollRemoved(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

func (r *recordingSink) VotesChanged(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voteChanges = append(r.voteChanges, id)
}

func (r *recordingSink) ParticipantsChanged(context.Context, *models.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants++
}

func (r *recordingSink) ChatMessageObserved(_ context.Context, m models.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = append(r.chat, m)
}

type stubSub struct{ closed *int }

func (s stubSub) Unsubscribe() { *s.closed++ }

type stubFeed struct {
	failOn Table
	opened []Table
	closed int
}

func (f *stubFeed) Subscribe(_ context.Context, table Table, _ Handler) (Subscription, error) {
	if table == f.failOn {
		return nil, errors.New("boom")
	}
	f.opened = append(f.opened, table)
	return stubSub{closed: &f.closed}, nil
}

func TestSubscriberRouting(t *testing.T) {
	sink := &recordingSink{}
	sub := NewSubscriber(&stubFeed{}, sink)
	ctx := context.Background()

	pollRow := json.RawMessage(`{"id":"p1","question":"q","options":[{"text":"a"},{"text":"b"}],"is_active":true,"time_limit":60,"created_at":"2025-03-01T12:00:00Z"}`)
	sub.Handle(ctx, Event{EventType: EventInsert, Table: TablePolls, New: pollRow})
	sub.Handle(ctx, Event{EventType: EventUpdate, Table: TablePolls, New: pollRow})
	sub.Handle(ctx, Event{EventType: EventDelete, Table: TablePolls, Old: json.RawMessage(`{"id":"p1"}`)})
	sub.Handle(ctx, Event{EventType: EventInsert, Table: TableVotes, New: json.RawMessage(`{"poll_id":"p1","user_id":"u1","option_id":"0"}`)})
	sub.Handle(ctx, Event{EventType: EventInsert, Table: TableVotes, New: json.RawMessage(`garbage`)})
	sub.Handle(ctx, Event{EventType: EventUpdate, Table: TableParticipants, New: json.RawMessage(`{"id":"u1","is_active":false}`)})
	sub.Handle(ctx, Event{EventType: EventInsert, Table: TableChat, New: json.RawMessage(`{"id":"m1","message":"hi"}`)})
	sub.Handle(ctx, Event{EventType: EventInsert, Table: TableChat, New: json.RawMessage(`{"message":"no id"}`)})
	sub.Handle(ctx, Event{EventType: EventInsert, Table: TablePolls, New: json.RawMessage(`[1,2]`)})

	require.Len(t, sink.polls, 2)
	assert.Equal(t, []bool{true, false}, sink.inserted)
	assert.Equal(t, []string{"p1"}, sink.removed)
	assert.Equal(t, []string{"p1", ""}, sink.voteChanges)
	assert.Equal(t, 1, sink.participants)
	require.Len(t, sink.chat, 1)
	assert.Equal(t, "m1", sink.chat[0].ID)
}

func TestSubscriberStartAndStop(t *testing.T) {
	f := &stubFeed{}
	sub := NewSubscriber(f, &recordingSink{})

	require.NoError(t, sub.Start(context.Background()))
	assert.Equal(t, Tables, f.opened)

	require.NoError(t, sub.Start(context.Background()), "second start is a no-op")
	assert.Len(t, f.opened, len(Tables))

	sub.Stop()
	sub.Stop()
	assert.Equal(t, len(Tables), f.closed)
}

func TestSubscriberStartFailureClosesOpened(t *testing.T) {
	f := &stubFeed{failOn: TableParticipants}
	sub := NewSubscriber(f, &recordingSink{})

	err := sub.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, f.closed)
}
