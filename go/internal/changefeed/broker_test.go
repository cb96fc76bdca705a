package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
)

func chatEvent(id string) feed.Event {
	return feed.Event{
		EventType: feed.EventInsert,
		Table:     feed.TableChat,
		New:       json.RawMessage(`{"id":"` + id + `","message":"hi","user_name":"Ana","user_role":"student"}`),
	}
}

type collector struct {
	mu  sync.Mutex
	got []feed.Event
}

func (c *collector) handle(_ context.Context, ev feed.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestBroker_DeliversToTableSubscribers(t *testing.T) {
	b := NewBroker(DefaultBrokerConfig())
	ctx := context.Background()

	var chat, polls collector
	chatSub, err := b.Subscribe(ctx, feed.TableChat, chat.handle)
	require.NoError(t, err)
	defer chatSub.Unsubscribe()
	pollSub, err := b.Subscribe(ctx, feed.TablePolls, polls.handle)
	require.NoError(t, err)
	defer pollSub.Unsubscribe()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, b.Publish(ctx, chatEvent(id)))
	}

	require.Eventually(t, func() bool { return chat.len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, polls.len())

	chat.mu.Lock()
	assert.JSONEq(t, string(chatEvent("1").New), string(chat.got[0].New))
	assert.JSONEq(t, string(chatEvent("3").New), string(chat.got[2].New))
	chat.mu.Unlock()
}

func TestBroker_RejectsUnknownTable(t *testing.T) {
	b := NewBroker(DefaultBrokerConfig())

	_, err := b.Subscribe(context.Background(), "grades", func(context.Context, feed.Event) {})
	assert.ErrorIs(t, err, ErrUnknownTable)

	err = b.Publish(context.Background(), feed.Event{EventType: feed.EventInsert, Table: "grades"})
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestBroker_UnsubscribeFromHandler(t *testing.T) {
	b := NewBroker(DefaultBrokerConfig())
	ctx := context.Background()

	var calls atomic.Int32
	var sub feed.Subscription
	ready := make(chan struct{})
	var err error
	sub, err = b.Subscribe(ctx, feed.TableChat, func(context.Context, feed.Event) {
		<-ready
		calls.Add(1)
		sub.Unsubscribe()
	})
	require.NoError(t, err)
	close(ready)

	require.NoError(t, b.Publish(ctx, chatEvent("1")))
	require.Eventually(t, func() bool { return b.Stats().Subscriptions == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Publish(ctx, chatEvent("2")))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBroker_ContextCancelEndsSubscription(t *testing.T) {
	b := NewBroker(DefaultBrokerConfig())
	ctx, cancel := context.WithCancel(context.Background())

	_, err := b.Subscribe(ctx, feed.TableVotes, func(context.Context, feed.Event) {})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stats().Subscriptions)

	cancel()
	require.Eventually(t, func() bool { return b.Stats().Subscriptions == 0 }, time.Second, 5*time.Millisecond)
}

func TestBroker_OverflowAsksListenersToReconcile(t *testing.T) {
	b := NewBroker(BrokerConfig{QueueSize: 1})
	ctx := context.Background()

	release := make(chan struct{})
	sub, err := b.Subscribe(ctx, feed.TableChat, func(context.Context, feed.Event) { <-release })
	require.NoError(t, err)
	defer func() {
		close(release)
		sub.Unsubscribe()
	}()

	statuses := make(chan feed.Status, 4)
	stop := b.OnStatus(func(st feed.Status) { statuses <- st })
	defer stop()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, b.Publish(ctx, chatEvent(id)))
	}

	select {
	case st := <-statuses:
		assert.Equal(t, feed.StatusReconnected, st)
	case <-time.After(time.Second):
		t.Fatal("no reconcile signal after overflow")
	}
	assert.NotZero(t, b.Stats().Dropped)
}

func TestBroker_StatusChangesAreDeduplicated(t *testing.T) {
	b := NewBroker(DefaultBrokerConfig())

	statuses := make(chan feed.Status, 8)
	stop := b.OnStatus(func(st feed.Status) { statuses <- st })

	b.SetStatus(feed.StatusConnected)
	b.SetStatus(feed.StatusConnected)
	b.SetStatus(feed.StatusDisconnected)
	b.SetStatus(feed.StatusReconnected)

	want := []feed.Status{feed.StatusConnected, feed.StatusDisconnected, feed.StatusReconnected}
	for _, w := range want {
		select {
		case st := <-statuses:
			assert.Equal(t, w, st)
		case <-time.After(time.Second):
			t.Fatalf("missing status %s", w)
		}
	}

	stop()
	b.SetStatus(feed.StatusDisconnected)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, statuses)
	assert.Equal(t, feed.StatusDisconnected, b.Status())
}

type flakySource struct {
	runs     atomic.Int32
	failures int32
}

func (s *flakySource) Run(ctx context.Context, sink Sink) error {
	n := s.runs.Add(1)
	if n <= s.failures {
		return errors.New("connection refused")
	}
	sink.SetStatus(feed.StatusConnected)
	_ = sink.Publish(ctx, chatEvent("after-restart"))
	<-ctx.Done()
	return nil
}

func TestBroker_RunRestartsFailedSource(t *testing.T) {
	b := NewBroker(BrokerConfig{RestartDelay: time.Millisecond, MaxRestarts: -1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got collector
	_, err := b.Subscribe(ctx, feed.TableChat, got.handle)
	require.NoError(t, err)

	src := &flakySource{failures: 2}
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, src) }()

	require.Eventually(t, func() bool { return got.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), src.runs.Load())
	assert.Equal(t, feed.StatusConnected, b.Status())

	cancel()
	assert.NoError(t, <-done)
}

func TestBroker_RunGivesUp(t *testing.T) {
	b := NewBroker(BrokerConfig{RestartDelay: time.Millisecond, MaxRestarts: 1})

	err := b.Run(context.Background(), &flakySource{failures: 10})
	assert.Error(t, err)
}
