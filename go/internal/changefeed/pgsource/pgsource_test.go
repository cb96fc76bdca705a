package pgsource

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lib/pq"
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

type stubRows struct {
	rows  map[string]json.RawMessage
	calls int
}

func (r *stubRows) RowJSON(_ context.Context, table feed.Table, id string) (json.RawMessage, error) {
	r.calls++
	row, ok := r.rows[string(table)+"/"+id]
	if !ok {
		return nil, errors.New("no rows")
	}
	return row, nil
}

func TestHandleNotification_FullPayload(t *testing.T) {
	rows := &stubRows{}
	src := New(DefaultConfig(), rows)
	sink := &recordingSink{}

	payload := `{"eventType":"UPDATE","table":"polls","new":{"id":"p1","is_active":false},"old":{"id":"p1","is_active":true}}`
	require.NoError(t, src.handleNotification(context.Background(), sink, payload))

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, feed.EventUpdate, ev.EventType)
	assert.Equal(t, feed.TablePolls, ev.Table)
	assert.JSONEq(t, `{"id":"p1","is_active":false}`, string(ev.New))
	assert.Zero(t, rows.calls)
}

func TestHandleNotification_IDOnlyPayloadIsRefetched(t *testing.T) {
	rows := &stubRows{rows: map[string]json.RawMessage{
		"polls/p1": json.RawMessage(`{"id":"p1","question":"long"}`),
	}}
	src := New(DefaultConfig(), rows)
	sink := &recordingSink{}

	require.NoError(t, src.handleNotification(context.Background(), sink, `{"eventType":"UPDATE","table":"polls","id":"p1"}`))

	require.Len(t, sink.events, 1)
	assert.JSONEq(t, `{"id":"p1","question":"long"}`, string(sink.events[0].New))
	assert.Equal(t, 1, rows.calls)
}

func TestHandleNotification_IDOnlyDelete(t *testing.T) {
	rows := &stubRows{}
	src := New(DefaultConfig(), rows)
	sink := &recordingSink{}

	require.NoError(t, src.handleNotification(context.Background(), sink, `{"eventType":"DELETE","table":"polls","id":"p1"}`))

	require.Len(t, sink.events, 1)
	assert.JSONEq(t, `{"id":"p1"}`, string(sink.events[0].Old))
	assert.Zero(t, rows.calls)
}

func TestHandleNotification_Errors(t *testing.T) {
	src := New(DefaultConfig(), &stubRows{})
	sink := &recordingSink{}
	ctx := context.Background()

	assert.Error(t, src.handleNotification(ctx, sink, `garbage`))
	assert.ErrorIs(t, src.handleNotification(ctx, sink, `{"eventType":"INSERT","table":"grades","new":{}}`), changefeed.ErrUnknownTable)
	assert.Error(t, src.handleNotification(ctx, sink, `{"eventType":"INSERT","table":"polls","id":"missing"}`))
	assert.Empty(t, sink.events)
}

func TestStatusFor(t *testing.T) {
	st, ok := statusFor(pq.ListenerEventReconnected)
	assert.True(t, ok)
	assert.Equal(t, feed.StatusReconnected, st)

	st, ok = statusFor(pq.ListenerEventDisconnected)
	assert.True(t, ok)
	assert.Equal(t, feed.StatusDisconnected, st)

	st, ok = statusFor(pq.ListenerEventConnectionAttemptFailed)
	assert.True(t, ok)
	assert.Equal(t, feed.StatusDisconnected, st)
}
