// Package store holds the errors and request types shared by the store backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/pollsync/go/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPollAlreadyActive is returned by CreatePoll while another poll is active.
	ErrPollAlreadyActive = errors.New("a poll is already active")
	// ErrPollNotActive is returned when a write targets a poll that has ended.
	ErrPollNotActive = errors.New("poll is not active")
	// ErrDuplicateVote is returned when the user already has a vote for the poll.
	ErrDuplicateVote = errors.New("user already voted in this poll")
	// ErrDuplicateParticipant is returned when a participant id is reused.
	ErrDuplicateParticipant = errors.New("participant already exists")
)

// CreatePollRequest carries the already validated fields of a new poll.
type CreatePollRequest struct {
	Question  string
	Options   []string
	TimeLimit int
	CreatedBy string
}

// CreateChatMessageRequest carries a chat line to append.
type CreateChatMessageRequest struct {
	Message  string
	UserName string
	UserRole models.Role
}

// Store is the full set of operations the sync engine needs from a backend.
type Store interface {
	InsertParticipant(ctx context.Context, p models.Participant) error
	// SetParticipantActive flips the roster flag. Rows are never deleted.
	SetParticipantActive(ctx context.Context, userID string, active bool) error
	ListActiveParticipants(ctx context.Context) ([]models.Participant, error)

	CreatePoll(ctx context.Context, req CreatePollRequest) (*models.Poll, error)
	GetPoll(ctx context.Context, pollID string) (*models.Poll, error)
	// GetActivePoll returns nil and no error when no poll is active.
	GetActivePoll(ctx context.Context) (*models.Poll, error)
	// ListEndedPolls returns inactive polls, newest first.
	ListEndedPolls(ctx context.Context, limit int) ([]models.Poll, error)
	// UpdatePollTally writes recounted options only while the poll is active and the
	// tally differs. It reports whether a row was written.
	UpdatePollTally(ctx context.Context, pollID string, options []models.PollOption, total int) (bool, error)
	// EndPoll recounts votes and marks the poll inactive in one step. Only the first
	// caller succeeds; later callers get ErrPollNotActive.
	EndPoll(ctx context.Context, pollID string, endedAt time.Time) (*models.Poll, error)

	// InsertVote fails with ErrDuplicateVote or ErrPollNotActive.
	InsertVote(ctx context.Context, v models.Vote) error
	ListVotes(ctx context.Context, pollID string) ([]models.Vote, error)
	GetVote(ctx context.Context, pollID, userID string) (*models.Vote, error)

	InsertChatMessage(ctx context.Context, req CreateChatMessageRequest) (*models.ChatMessage, error)
	// ListRecentChatMessages returns the newest limit messages in ascending order.
	ListRecentChatMessages(ctx context.Context, limit int) ([]models.ChatMessage, error)
}
