package livepoll

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll/policy"
	"github.com/mcdev12/pollsync/go/internal/livepoll/state"
	"github.com/mcdev12/pollsync/go/internal/livepoll/votes"
	"github.com/mcdev12/pollsync/go/internal/models"
	"github.com/mcdev12/pollsync/go/internal/store"
)

// fail reports an operation failure. Policy rejections become a rejected notice and
// are swallowed; anything else is an error notice and is returned wrapped.
func (e *Engine) fail(op, userMessage string, err error) error {
	if policy.IsRejection(err) {
		log.Warn().
			Str("session_id", e.id).
			Str("op", op).
			Str("reason", err.Error()).
			Msg("Operation rejected")
		e.notify(NoticeRejected, err.Error())
		return nil
	}

	log.Error().Err(err).Str("session_id", e.id).Str("op", op).Msg("Operation failed")
	e.notify(NoticeError, userMessage)
	return fmt.Errorf("%s: %w", op, err)
}

func (e *Engine) snapshot() (state.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return state.State{}, ErrClosed
	}
	return e.state, nil
}

// JoinAsUser registers the caller as an active participant.
func (e *Engine) JoinAsUser(ctx context.Context, name string, role models.Role) error {
	s, err := e.snapshot()
	if err != nil {
		return err
	}
	if s.User != nil {
		return e.fail("join", "", policy.Reject("Already joined as %s", s.User.Name))
	}

	user, err := e.roster.Join(ctx, name, role)
	if err != nil {
		return e.fail("join", "Failed to join", err)
	}

	e.apply(state.SetUser{User: user})
	e.refreshRoster(ctx)
	e.notify(NoticeInfo, fmt.Sprintf("Joined as %s", user.Role))
	return nil
}

// CreatePoll starts a new poll. Only a teacher may create one, and only while no poll
// is active. A zero timeLimit selects the default.
func (e *Engine) CreatePoll(ctx context.Context, question string, options []string, timeLimit int) error {
	s, err := e.snapshot()
	if err != nil {
		return err
	}
	if err := policy.RequireTeacher(s.User); err != nil {
		return e.fail("create poll", "", err)
	}
	if s.ActivePollID() != "" {
		return e.fail("create poll", "", policy.Reject("A poll is already active"))
	}
	draft, err := e.policy.NewPoll(question, options, timeLimit)
	if err != nil {
		return e.fail("create poll", "", err)
	}

	poll, err := e.store.CreatePoll(ctx, store.CreatePollRequest{
		Question:  draft.Question,
		Options:   draft.Options,
		TimeLimit: draft.TimeLimit,
		CreatedBy: s.User.ID,
	})
	if errors.Is(err, store.ErrPollAlreadyActive) {
		return e.fail("create poll", "", policy.Reject("A poll is already active"))
	}
	if err != nil {
		return e.fail("create poll", "Failed to create poll", err)
	}

	log.Info().
		Str("session_id", e.id).
		Str("poll_id", poll.ID).
		Int("options", len(poll.Options)).
		Int("time_limit", poll.TimeLimit).
		Msg("Poll created")

	e.observePoll(ctx, poll)
	e.notify(NoticeInfo, "Poll created successfully!")
	return nil
}

// Vote casts the caller's vote on the current poll.
func (e *Engine) Vote(ctx context.Context, optionID string) error {
	return e.VoteFor(ctx, "", optionID)
}

// VoteFor casts a vote on pollID, which must still be the current active poll. An
// empty pollID means the current poll.
func (e *Engine) VoteFor(ctx context.Context, pollID, optionID string) error {
	s, err := e.snapshot()
	if err != nil {
		return err
	}
	if err := votes.Eligible(s, pollID, optionID); err != nil {
		return e.fail("vote", "", err)
	}
	pollID = s.CurrentPoll.ID

	vote, err := e.votes.Cast(ctx, pollID, s.User.ID, optionID)
	if vote != nil {
		e.markVoted(pollID, vote.OptionID)
	}
	if err != nil {
		return e.fail("vote", "Failed to submit vote", err)
	}

	e.recount(ctx, pollID)
	e.notify(NoticeInfo, "Vote submitted successfully!")
	return nil
}

func (e *Engine) markVoted(pollID, optionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state.ActivePollID() != pollID {
		return
	}
	e.reduceLocked(state.SetVote{HasVoted: true, OptionID: optionID})
}

// EndPoll ends the current poll ahead of its time limit. Teacher only.
func (e *Engine) EndPoll(ctx context.Context) error {
	s, err := e.snapshot()
	if err != nil {
		return err
	}
	if err := policy.RequireTeacher(s.User); err != nil {
		return e.fail("end poll", "", err)
	}
	pollID := s.ActivePollID()
	if pollID == "" {
		return e.fail("end poll", "", policy.Reject("There is no active poll"))
	}
	return e.finishPoll(ctx, pollID, true)
}

// finishPoll ends pollID in the store. Expiry timers on every client and a manual end
// may all race here; the store lets exactly one through and the others resync.
func (e *Engine) finishPoll(ctx context.Context, pollID string, manual bool) error {
	ended, err := e.store.EndPoll(ctx, pollID, e.clock.Now())
	if errors.Is(err, store.ErrPollNotActive) || errors.Is(err, store.ErrNotFound) {
		log.Debug().Str("session_id", e.id).Str("poll_id", pollID).Msg("Poll already ended elsewhere")
		e.syncPoll(ctx, pollID)
		if manual {
			return e.fail("end poll", "", policy.Reject("This poll has already ended"))
		}
		return nil
	}
	if err != nil {
		return e.fail("end poll", "Failed to end poll", err)
	}

	e.observePoll(ctx, ended)
	if manual {
		e.notify(NoticeInfo, "Poll ended")
	}
	return nil
}

// KickUser deactivates another participant. Teacher only.
func (e *Engine) KickUser(ctx context.Context, userID string) error {
	s, err := e.snapshot()
	if err != nil {
		return err
	}
	if err := e.roster.Kick(ctx, s.User, userID); err != nil {
		return e.fail("kick", "Failed to remove participant", err)
	}
	e.refreshRoster(ctx)
	e.notify(NoticeInfo, "Participant removed")
	return nil
}

// SendChatMessage appends a chat message from the caller.
func (e *Engine) SendChatMessage(ctx context.Context, text string) error {
	s, err := e.snapshot()
	if err != nil {
		return err
	}
	msg, err := e.chat.Send(ctx, s.User, text)
	if err != nil {
		return e.fail("send chat message", "Failed to send message", err)
	}
	e.apply(state.AddChatMessage{Message: *msg})
	return nil
}

// Disconnect marks the caller inactive, stops all subscriptions and the countdown, and
// resets the state. Other clients are unaffected. It is safe to call more than once.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.leaving = true
	user := e.state.User
	e.mu.Unlock()

	var leaveErr error
	if user != nil {
		leaveErr = e.roster.Leave(ctx, user.ID)
	}
	e.teardown()

	if leaveErr != nil {
		log.Error().Err(leaveErr).Str("session_id", e.id).Msg("Failed to mark participant inactive")
		return fmt.Errorf("disconnect: %w", leaveErr)
	}
	return nil
}
