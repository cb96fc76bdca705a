package changefeed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
)

func TestEncodeDecode(t *testing.T) {
	ev := feed.Event{
		EventType: feed.EventUpdate,
		Table:     feed.TablePolls,
		New:       json.RawMessage(`{"id":"p1","is_active":false}`),
		Old:       json.RawMessage(`{"id":"p1","is_active":true}`),
	}

	data, err := Encode(ev)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ev.EventType, got.EventType)
	assert.Equal(t, ev.Table, got.Table)
	assert.JSONEq(t, string(ev.New), string(got.New))
	assert.JSONEq(t, string(ev.Old), string(got.Old))
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte(`{"eventType":"INSERT","table":"grades"}`))
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = Decode([]byte(`{"eventType":"TRUNCATE","table":"polls"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestEventID_StableForSamePayload(t *testing.T) {
	a := EventID([]byte(`{"a":1}`))
	b := EventID([]byte(`{"a":1}`))
	c := EventID([]byte(`{"a":2}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
