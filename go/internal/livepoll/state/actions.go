package state

import (
	"github.com/mcdev12/pollsync/go/internal/models"
)

// ActionType names an action for logging.
type ActionType string

const (
	ActionSetUser          ActionType = "SET_USER"
	ActionSetPoll          ActionType = "SET_POLL"
	ActionSetPollHistory   ActionType = "SET_POLL_HISTORY"
	ActionSetParticipants  ActionType = "SET_PARTICIPANTS"
	ActionSetTimeRemaining ActionType = "SET_TIME_REMAINING"
	ActionSetConnection    ActionType = "SET_CONNECTION"
	ActionSetVote          ActionType = "SET_VOTE"
	ActionSetChatMessages  ActionType = "SET_CHAT_MESSAGES"
	ActionAddChatMessage   ActionType = "ADD_CHAT_MESSAGE"
	ActionReset            ActionType = "RESET_STATE"
)

// Action is the closed set of state transitions. Only types in this package implement it.
type Action interface {
	Type() ActionType
	action()
}

type SetUser struct{ User models.User }

type SetPoll struct{ Poll *models.Poll }

type SetPollHistory struct{ History []models.PollResult }

type SetParticipants struct{ Participants []models.User }

type SetTimeRemaining struct{ Seconds int }

type SetConnection struct{ Connected bool }

type SetVote struct {
	HasVoted bool
	OptionID string
}

type SetChatMessages struct{ Messages []models.ChatMessage }

type AddChatMessage struct{ Message models.ChatMessage }

type Reset struct{}

func (SetUser) Type() ActionType          { return ActionSetUser }
func (SetPoll) Type() ActionType          { return ActionSetPoll }
func (SetPollHistory) Type() ActionType   { return ActionSetPollHistory }
func (SetParticipants) Type() ActionType  { return ActionSetParticipants }
func (SetTimeRemaining) Type() ActionType { return ActionSetTimeRemaining }
func (SetConnection) Type() ActionType    { return ActionSetConnection }
func (SetVote) Type() ActionType          { return ActionSetVote }
func (SetChatMessages) Type() ActionType  { return ActionSetChatMessages }
func (AddChatMessage) Type() ActionType   { return ActionAddChatMessage }
func (Reset) Type() ActionType            { return ActionReset }

func (SetUser) action()          {}
func (SetPoll) action()          {}
func (SetPollHistory) action()   {}
func (SetParticipants) action()  {}
func (SetTimeRemaining) action() {}
func (SetConnection) action()    {}
func (SetVote) action()          {}
func (SetChatMessages) action()  {}
func (AddChatMessage) action()   {}
func (Reset) action()            {}
