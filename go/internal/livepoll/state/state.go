// Package state holds the per-client view of a live poll session and the pure
// transition function that is the only way to change it.
package state

import (
	"github.com/mcdev12/pollsync/go/internal/models"
)

// State is the observable view of one connected client. Values are never mutated in
// place: Reduce always returns a new State, so a State handed to an observer can be read
// without locking.
type State struct {
	User          *models.User         `json:"user"`
	CurrentPoll   *models.Poll         `json:"current_poll"`
	PollHistory   []models.PollResult  `json:"poll_history"`
	Participants  []models.User        `json:"participants"`
	TimeRemaining int                  `json:"time_remaining"`
	IsConnected   bool                 `json:"is_connected"`
	HasVoted      bool                 `json:"has_voted"`
	UserVote      *string              `json:"user_vote"`
	ChatMessages  []models.ChatMessage `json:"chat_messages"`
}

// Initial returns the state of a client that has not joined or connected yet.
func Initial() State {
	return State{
		PollHistory:  []models.PollResult{},
		Participants: []models.User{},
		ChatMessages: []models.ChatMessage{},
	}
}

// ActivePollID returns the id of the current poll if it is active, or "".
func (s State) ActivePollID() string {
	if s.CurrentPoll == nil || !s.CurrentPoll.IsActive {
		return ""
	}
	return s.CurrentPoll.ID
}

// HasHistoryFor reports whether a result for pollID is already in the history.
func (s State) HasHistoryFor(pollID string) bool {
	for _, r := range s.PollHistory {
		if r.PollID == pollID {
			return true
		}
	}
	return false
}
