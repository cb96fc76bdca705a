package models

import (
	"math"
	"strconv"
	"time"
)

// PollOption is one answer of a poll. Voters holds each user id at most once.
type PollOption struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Votes  int      `json:"votes"`
	Voters []string `json:"voters"`
}

// Poll represents a timed multiple-choice question.
// TotalVotes always equals the sum of the options' Votes.
type Poll struct {
	ID         string       `json:"id"`
	Question   string       `json:"question"`
	Options    []PollOption `json:"options"`
	IsActive   bool         `json:"is_active"`
	TimeLimit  int          `json:"time_limit"`
	CreatedBy  string       `json:"created_by"`
	CreatedAt  time.Time    `json:"created_at"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
	TotalVotes int          `json:"total_votes"`
}

// Vote is the store record of a single user's answer to a poll.
type Vote struct {
	PollID    string    `json:"poll_id"`
	UserID    string    `json:"user_id"`
	OptionID  string    `json:"option_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the poll so callers can hand it out without sharing slices.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Options = make([]PollOption, len(p.Options))
	for i, opt := range p.Options {
		if opt.Voters != nil {
			voters := make([]string, len(opt.Voters))
			copy(voters, opt.Voters)
			opt.Voters = voters
		}
		cp.Options[i] = opt
	}
	if p.EndedAt != nil {
		ended := *p.EndedAt
		cp.EndedAt = &ended
	}
	return &cp
}

// HasOption reports whether optionID names one of the poll's options.
func (p *Poll) HasOption(optionID string) bool {
	for _, opt := range p.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// Deadline is the wall-clock instant at which the poll times out.
func (p *Poll) Deadline() time.Time {
	return p.CreatedAt.Add(time.Duration(p.TimeLimit) * time.Second)
}

// RemainingAt returns the whole seconds left at now, computed from the stored creation
// time so that every client converges on the same deadline regardless of when it
// subscribed. The result is clamped to [0, TimeLimit].
func (p *Poll) RemainingAt(now time.Time) int {
	elapsed := int(math.Floor(now.Sub(p.CreatedAt).Seconds()))
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := p.TimeLimit - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NewPollOptions builds zero-vote options from answer texts. Option ids are the
// positional index, matching the ids stored in vote records.
func NewPollOptions(texts []string) []PollOption {
	options := make([]PollOption, len(texts))
	for i, text := range texts {
		options[i] = PollOption{
			ID:     optionID(i),
			Text:   text,
			Voters: []string{},
		}
	}
	return options
}

// TallyVotes recomputes per-option counts from the full set of vote records.
// It never increments in place: counts start from zero, each user is counted once
// (first record wins) and votes for unknown options are ignored.
func TallyVotes(options []PollOption, votes []Vote) ([]PollOption, int) {
	tallied := make([]PollOption, len(options))
	index := make(map[string]int, len(options))
	for i, opt := range options {
		tallied[i] = PollOption{ID: opt.ID, Text: opt.Text, Voters: []string{}}
		index[opt.ID] = i
	}

	seen := make(map[string]bool, len(votes))
	total := 0
	for _, v := range votes {
		if seen[v.UserID] {
			continue
		}
		i, ok := index[v.OptionID]
		if !ok {
			continue
		}
		seen[v.UserID] = true
		tallied[i].Votes++
		tallied[i].Voters = append(tallied[i].Voters, v.UserID)
		total++
	}
	return tallied, total
}

// SameTally reports whether two option lists carry identical counts and voters.
func SameTally(a, b []PollOption) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Votes != b[i].Votes || len(a[i].Voters) != len(b[i].Voters) {
			return false
		}
		for j := range a[i].Voters {
			if a[i].Voters[j] != b[i].Voters[j] {
				return false
			}
		}
	}
	return true
}

func optionID(i int) string {
	return strconv.Itoa(i)
}
