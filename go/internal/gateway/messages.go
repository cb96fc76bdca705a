package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/pollsync/go/internal/livepoll"
	"github.com/mcdev12/pollsync/go/internal/livepoll/state"
	"github.com/mcdev12/pollsync/go/internal/models"
)

// ClientMessageType is the command a client sends over its socket.
type ClientMessageType string

const (
	ClientJoin           ClientMessageType = "join"
	ClientCreatePoll     ClientMessageType = "create_poll"
	ClientVote           ClientMessageType = "vote"
	ClientEndPoll        ClientMessageType = "end_poll"
	ClientKick           ClientMessageType = "kick"
	ClientChat           ClientMessageType = "chat"
	ClientRefreshHistory ClientMessageType = "refresh_history"
	ClientDisconnect     ClientMessageType = "disconnect"
)

// ClientMessage is one command. Only the fields of its type are read.
type ClientMessage struct {
	Type      ClientMessageType `json:"type"`
	Name      string            `json:"name,omitempty"`
	Role      models.Role       `json:"role,omitempty"`
	Question  string            `json:"question,omitempty"`
	Options   []string          `json:"options,omitempty"`
	TimeLimit int               `json:"time_limit,omitempty"`
	PollID    string            `json:"poll_id,omitempty"`
	OptionID  string            `json:"option_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// ServerMessageType is the kind of frame the gateway pushes.
type ServerMessageType string

const (
	ServerState  ServerMessageType = "state"
	ServerNotice ServerMessageType = "notice"
	ServerKicked ServerMessageType = "kicked"
)

// ServerMessage is one pushed frame.
type ServerMessage struct {
	Type      ServerMessageType `json:"type"`
	State     *state.State      `json:"state,omitempty"`
	Notice    *livepoll.Notice  `json:"notice,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

var errUnknownMessage = errors.New("unknown message type")

// Commands is the part of livepoll.Engine a session drives.
type Commands interface {
	JoinAsUser(ctx context.Context, name string, role models.Role) error
	CreatePoll(ctx context.Context, question string, options []string, timeLimit int) error
	VoteFor(ctx context.Context, pollID, optionID string) error
	EndPoll(ctx context.Context) error
	KickUser(ctx context.Context, userID string) error
	SendChatMessage(ctx context.Context, text string) error
	RefreshHistory(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

var _ Commands = (*livepoll.Engine)(nil)

// dispatch runs msg against eng. done reports that the session should close.
func dispatch(ctx context.Context, eng Commands, msg ClientMessage) (done bool, err error) {
	switch msg.Type {
	case ClientJoin:
		return false, eng.JoinAsUser(ctx, msg.Name, msg.Role)
	case ClientCreatePoll:
		return false, eng.CreatePoll(ctx, msg.Question, msg.Options, msg.TimeLimit)
	case ClientVote:
		return false, eng.VoteFor(ctx, msg.PollID, msg.OptionID)
	case ClientEndPoll:
		return false, eng.EndPoll(ctx)
	case ClientKick:
		return false, eng.KickUser(ctx, msg.UserID)
	case ClientChat:
		return false, eng.SendChatMessage(ctx, msg.Message)
	case ClientRefreshHistory:
		return false, eng.RefreshHistory(ctx)
	case ClientDisconnect:
		return true, eng.Disconnect(ctx)
	default:
		return false, fmt.Errorf("%w: %q", errUnknownMessage, msg.Type)
	}
}
