package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcdev12/pollsync/go/internal/models"
)

type recordingCommands struct {
	calls []string
	args  []any
}

func (r *recordingCommands) record(name string, args ...any) error {
	r.calls = append(r.calls, name)
	r.args = append(r.args, args...)
	return nil
}

func (r *recordingCommands) JoinAsUser(_ context.Context, name string, role models.Role) error {
	return r.record("join", name, role)
}

func (r *recordingCommands) CreatePoll(_ context.Context, q string, opts []string, limit int) error {
	return r.record("create", q, opts, limit)
}

func (r *recordingCommands) VoteFor(_ context.Context, pollID, optionID string) error {
	return r.record("vote", pollID, optionID)
}

func (r *recordingCommands) EndPoll(context.Context) error { return r.record("end") }

func (r *recordingCommands) KickUser(_ context.Context, userID string) error {
	return r.record("kick", userID)
}

func (r *recordingCommands) SendChatMessage(_ context.Context, text string) error {
	return r.record("chat", text)
}

func (r *recordingCommands) RefreshHistory(context.Context) error { return r.record("history") }

func (r *recordingCommands) Disconnect(context.Context) error { return r.record("disconnect") }

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	cmds := &recordingCommands{}

	msgs := []ClientMessage{
		{Type: ClientJoin, Name: "Ana", Role: models.RoleStudent},
		{Type: ClientCreatePoll, Question: "Q?", Options: []string{"a", "b"}, TimeLimit: 30},
		{Type: ClientVote, PollID: "p1", OptionID: "1"},
		{Type: ClientEndPoll},
		{Type: ClientKick, UserID: "u2"},
		{Type: ClientChat, Message: "hi"},
		{Type: ClientRefreshHistory},
	}
	for _, m := range msgs {
		done, err := dispatch(ctx, cmds, m)
		assert.NoError(t, err)
		assert.False(t, done)
	}

	done, err := dispatch(ctx, cmds, ClientMessage{Type: ClientDisconnect})
	assert.NoError(t, err)
	assert.True(t, done)

	assert.Equal(t, []string{"join", "create", "vote", "end", "kick", "chat", "history", "disconnect"}, cmds.calls)
	assert.Contains(t, cmds.args, "p1")
	assert.Contains(t, cmds.args, "u2")
}

func TestDispatch_Unknown(t *testing.T) {
	_, err := dispatch(context.Background(), &recordingCommands{}, ClientMessage{Type: "teleport"})
	assert.ErrorIs(t, err, errUnknownMessage)
}
