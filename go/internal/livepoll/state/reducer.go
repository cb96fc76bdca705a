package state

import (
	"sort"

	"github.com/mcdev12/pollsync/go/internal/models"
)

// Reduce applies a to s and returns the resulting state. It is pure and idempotent:
// applying the same action twice yields the same state as applying it once, which the
// at-least-once change feed relies on.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case SetUser:
		user := a.User
		s.User = &user

	case SetPoll:
		// A poll observation invalidates any vote or timer state from before it.
		s.CurrentPoll = a.Poll.Clone()
		s.HasVoted = false
		s.UserVote = nil
		s.TimeRemaining = 0
		if a.Poll != nil {
			s.TimeRemaining = a.Poll.TimeLimit
		}

	case SetPollHistory:
		s.PollHistory = append([]models.PollResult{}, a.History...)

	case SetParticipants:
		s.Participants = dedupeUsers(a.Participants)

	case SetTimeRemaining:
		if a.Seconds < 0 {
			s.TimeRemaining = 0
		} else {
			s.TimeRemaining = a.Seconds
		}

	case SetConnection:
		s.IsConnected = a.Connected

	case SetVote:
		s.HasVoted = a.HasVoted
		s.UserVote = nil
		if a.HasVoted && a.OptionID != "" {
			vote := a.OptionID
			s.UserVote = &vote
		}

	case SetChatMessages:
		s.ChatMessages = orderMessages(a.Messages)

	case AddChatMessage:
		if containsMessage(s.ChatMessages, a.Message.ID) {
			return s
		}
		s.ChatMessages = insertMessage(s.ChatMessages, a.Message)

	case Reset:
		return Initial()
	}
	return s
}

func dedupeUsers(users []models.User) []models.User {
	out := make([]models.User, 0, len(users))
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, u)
	}
	return out
}

func containsMessage(messages []models.ChatMessage, id string) bool {
	for _, m := range messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// insertMessage returns a new slice with msg placed in created_at order, after any
// messages with the same timestamp.
func insertMessage(messages []models.ChatMessage, msg models.ChatMessage) []models.ChatMessage {
	i := sort.Search(len(messages), func(i int) bool {
		return messages[i].CreatedAt.After(msg.CreatedAt)
	})
	out := make([]models.ChatMessage, 0, len(messages)+1)
	out = append(out, messages[:i]...)
	out = append(out, msg)
	out = append(out, messages[i:]...)
	return out
}

func orderMessages(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if containsMessage(out, m.ID) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
