package redisbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pollsync/go/internal/changefeed"
	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
)

type recordingSink struct {
	events   []feed.Event
	statuses []feed.Status
}

func (s *recordingSink) Publish(_ context.Context, ev feed.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) SetStatus(st feed.Status) {
	s.statuses = append(s.statuses, st)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "pollsync:changes:participants", Channel("pollsync:changes", feed.TableParticipants))
}

func TestNewClient_ParsesURL(t *testing.T) {
	client, err := NewClient(Config{URL: "redis://localhost:6380/2"})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "localhost:6380", client.Options().Addr)
	assert.Equal(t, 2, client.Options().DB)

	_, err = NewClient(Config{URL: "http://nope"})
	assert.Error(t, err)
}

func TestDispatcher_Messages(t *testing.T) {
	sink := &recordingSink{}
	d := &dispatcher{sink: sink}
	ctx := context.Background()

	data, err := changefeed.Encode(feed.Event{
		EventType: feed.EventInsert,
		Table:     feed.TableChat,
		New:       json.RawMessage(`{"id":"m1","message":"hello"}`),
	})
	require.NoError(t, err)

	require.NoError(t, d.dispatch(ctx, &redis.Message{Channel: "pollsync:changes:chat_messages", Payload: string(data)}))
	require.Len(t, sink.events, 1)
	assert.Equal(t, feed.TableChat, sink.events[0].Table)

	assert.Error(t, d.dispatch(ctx, &redis.Message{Channel: "pollsync:changes:x", Payload: "{}"}))
	assert.Len(t, sink.events, 1)
}

func TestDispatcher_ResubscribeIsReconnect(t *testing.T) {
	sink := &recordingSink{}
	d := &dispatcher{sink: sink}
	ctx := context.Background()

	require.NoError(t, d.dispatch(ctx, &redis.Subscription{Kind: "psubscribe", Channel: "pollsync:changes:*", Count: 1}))
	assert.Empty(t, sink.statuses)

	require.NoError(t, d.dispatch(ctx, &redis.Subscription{Kind: "psubscribe", Channel: "pollsync:changes:*", Count: 1}))
	assert.Equal(t, []feed.Status{feed.StatusReconnected}, sink.statuses)

	require.NoError(t, d.dispatch(ctx, &redis.Pong{}))
	assert.Len(t, sink.statuses, 1)
}
