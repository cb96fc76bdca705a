// Package votes records votes and keeps poll tallies derived from the full set of vote
// rows. The store's unique (poll, user) key is the authoritative duplicate guard.
package votes

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll/policy"
	"github.com/mcdev12/pollsync/go/internal/livepoll/state"
	"github.com/mcdev12/pollsync/go/internal/models"
	"github.com/mcdev12/pollsync/go/internal/store"
)

// Store is the subset of the backend the aggregator uses.
type Store interface {
	InsertVote(ctx context.Context, v models.Vote) error
	ListVotes(ctx context.Context, pollID string) ([]models.Vote, error)
	GetVote(ctx context.Context, pollID, userID string) (*models.Vote, error)
	UpdatePollTally(ctx context.Context, pollID string, options []models.PollOption, total int) (bool, error)
}

// Aggregator casts votes and recounts tallies.
type Aggregator struct {
	store Store
}

// NewAggregator creates an Aggregator over s.
func NewAggregator(s Store) *Aggregator {
	return &Aggregator{store: s}
}

// Eligible checks a vote attempt against local state. pollID may be empty to mean the
// current poll.
func Eligible(s state.State, pollID, optionID string) error {
	if err := policy.RequireUser(s.User); err != nil {
		return err
	}
	if s.CurrentPoll == nil || !s.CurrentPoll.IsActive {
		return policy.Reject("There is no active poll")
	}
	if pollID != "" && pollID != s.CurrentPoll.ID {
		return policy.Reject("That poll is no longer active")
	}
	if s.HasVoted {
		return policy.Reject("You have already voted")
	}
	if !s.CurrentPoll.HasOption(optionID) {
		return policy.Reject("Unknown option")
	}
	return nil
}

// Cast persists one vote. On a duplicate the existing vote is returned together with
// a rejection so the caller can restore its voted state.
func (a *Aggregator) Cast(ctx context.Context, pollID, userID, optionID string) (*models.Vote, error) {
	vote := models.Vote{PollID: pollID, UserID: userID, OptionID: optionID}

	err := a.store.InsertVote(ctx, vote)
	switch {
	case err == nil:
		log.Info().
			Str("poll_id", pollID).
			Str("user_id", userID).
			Str("option_id", optionID).
			Msg("Vote recorded")
		return &vote, nil

	case errors.Is(err, store.ErrDuplicateVote):
		existing, lookupErr := a.store.GetVote(ctx, pollID, userID)
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to load existing vote: %w", lookupErr)
		}
		return existing, policy.Reject("You have already voted")

	case errors.Is(err, store.ErrPollNotActive):
		return nil, policy.Reject("This poll has ended")

	default:
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}
}

// Lookup returns the user's vote for a poll, or nil if there is none.
func (a *Aggregator) Lookup(ctx context.Context, pollID, userID string) (*models.Vote, error) {
	v, err := a.store.GetVote(ctx, pollID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vote: %w", err)
	}
	return v, nil
}

// Recount rebuilds the poll's options from every vote row and writes the result back
// if it changed and the poll is still active. The returned poll is a new value.
func (a *Aggregator) Recount(ctx context.Context, poll *models.Poll) (*models.Poll, error) {
	rows, err := a.store.ListVotes(ctx, poll.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}

	recounted := poll.Clone()
	recounted.Options, recounted.TotalVotes = models.TallyVotes(poll.Options, rows)

	if !recounted.IsActive {
		return recounted, nil
	}
	if poll.TotalVotes == recounted.TotalVotes && models.SameTally(poll.Options, recounted.Options) {
		return recounted, nil
	}

	written, err := a.store.UpdatePollTally(ctx, poll.ID, recounted.Options, recounted.TotalVotes)
	if err != nil {
		return nil, fmt.Errorf("failed to update poll tally: %w", err)
	}
	log.Debug().
		Str("poll_id", poll.ID).
		Int("total_votes", recounted.TotalVotes).
		Bool("written", written).
		Msg("Poll tally recounted")
	return recounted, nil
}
