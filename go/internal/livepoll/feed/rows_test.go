package feed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoll(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "p1",
		"question": "Capital of France?",
		"options": [
			{"id": "x", "text": "Paris", "votes": 2, "voters": ["a", "b"]},
			{"text": "Lyon", "votes": 1, "voters": ["c"]}
		],
		"is_active": true,
		"time_limit": 60,
		"created_by": "Ms. T",
		"created_at": "2025-03-01T12:00:00.123456+00:00",
		"ended_at": null,
		"total_votes": 99
	}`)

	poll, err := ParsePoll(raw)
	require.NoError(t, err)

	assert.Equal(t, "p1", poll.ID)
	assert.True(t, poll.IsActive)
	assert.Nil(t, poll.EndedAt)
	require.Len(t, poll.Options, 2)
	assert.Equal(t, "0", poll.Options[0].ID, "option ids are positional")
	assert.Equal(t, "1", poll.Options[1].ID)
	assert.Equal(t, 3, poll.TotalVotes, "total is recomputed from options")
}

func TestParsePollOptionsNotArray(t *testing.T) {
	for name, options := range map[string]string{
		"object": `{"a": 1}`,
		"string": `"Paris,Lyon"`,
		"null":   `null`,
	} {
		t.Run(name, func(t *testing.T) {
			raw := json.RawMessage(`{"id":"p1","question":"q","options":` + options + `,"is_active":true,"time_limit":60,"created_at":"2025-03-01T12:00:00Z"}`)
			poll, err := ParsePoll(raw)
			require.NoError(t, err)
			assert.NotNil(t, poll.Options)
			assert.Empty(t, poll.Options)
			assert.Zero(t, poll.TotalVotes)
		})
	}
}

func TestParseOptionsNullVoters(t *testing.T) {
	options := ParseOptions(json.RawMessage(`[{"text":"A","votes":-3,"voters":null}]`))
	require.Len(t, options, 1)
	assert.Zero(t, options[0].Votes)
	assert.NotNil(t, options[0].Voters)
}

func TestParseMalformed(t *testing.T) {
	_, err := ParsePoll(json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParsePoll(json.RawMessage(`null`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParsePoll(json.RawMessage(`{"question":"no id"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseChatMessage(json.RawMessage(`[]`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseVote(json.RawMessage(`{"poll_id":"p1"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParsePollID(nil)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseParticipantAndChat(t *testing.T) {
	p, err := ParseParticipant(json.RawMessage(`{"id":"u1","name":"Ana","role":"student","is_active":false,"joined_at":"2025-03-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Name)
	assert.False(t, p.IsActive)

	m, err := ParseChatMessage(json.RawMessage(`{"id":"m1","message":"hi","user_name":"Ana","user_role":"student","created_at":"2025-03-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Message)
	assert.EqualValues(t, "student", m.UserRole)
}

func TestEventJSONShape(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"eventType":"DELETE","table":"polls","new":null,"old":{"id":"p1"}}`), &ev))
	assert.Equal(t, EventDelete, ev.EventType)
	assert.Equal(t, TablePolls, ev.Table)
	assert.True(t, isNull(ev.New))

	id, err := ParsePollID(ev.Old)
	require.NoError(t, err)
	assert.Equal(t, "p1", id)
}
