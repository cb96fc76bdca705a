package livepoll

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll/state"
	"github.com/mcdev12/pollsync/go/internal/models"
)

// Reconcile re-reads the whole session from the store: the active poll with a fresh
// vote recount, recent chat, the active roster and the ended poll history. It runs on
// connect and after every feed reconnect. Nothing is applied if any read fails.
//
// The reads race with feed events. A poll read as active that has ended by the time
// the result is applied is dropped, and history is never replaced by a read that is
// older than what the feed already delivered.
func (e *Engine) Reconcile(ctx context.Context) error {
	user := e.State().User

	active, err := e.store.GetActivePoll(ctx)
	if err != nil {
		return e.fail("reconcile", "Failed to load the session", fmt.Errorf("failed to get active poll: %w", err))
	}
	if active != nil {
		if active, err = e.votes.Recount(ctx, active); err != nil {
			return e.fail("reconcile", "Failed to load the session", err)
		}
	}

	messages, err := e.chat.Recent(ctx)
	if err != nil {
		return e.fail("reconcile", "Failed to load the session", err)
	}
	roster, err := e.roster.Roster(ctx)
	if err != nil {
		return e.fail("reconcile", "Failed to load the session", err)
	}
	history, endedIDs, err := e.readHistory(ctx)
	if err != nil {
		return e.fail("reconcile", "Failed to load the session", err)
	}

	var myVote *models.Vote
	if user != nil && active != nil {
		if myVote, err = e.votes.Lookup(ctx, active.ID, user.ID); err != nil {
			return e.fail("reconcile", "Failed to load the session", err)
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	for _, id := range endedIDs {
		e.ended[id] = true
	}

	var endedMeanwhile string
	if active != nil && e.ended[active.ID] {
		endedMeanwhile, active, myVote = active.ID, nil, nil
	}

	merged := append(append([]models.ChatMessage{}, e.state.ChatMessages...), messages...)
	actions := []state.Action{
		state.SetChatMessages{Messages: merged},
		state.SetParticipants{Participants: roster},
	}
	if endedMeanwhile == "" || !e.state.HasHistoryFor(endedMeanwhile) || slices.Contains(endedIDs, endedMeanwhile) {
		actions = append(actions, state.SetPollHistory{History: history})
	}
	switch {
	case endedMeanwhile != "":
		if e.state.ActivePollID() == endedMeanwhile {
			actions = append(actions, state.SetPoll{Poll: nil})
		}
	case active == nil:
		actions = append(actions, state.SetPoll{Poll: nil})
	default:
		hasVoted, option := e.state.HasVoted, ""
		if e.state.UserVote != nil {
			option = *e.state.UserVote
		}
		if e.state.ActivePollID() != active.ID {
			hasVoted, option = false, ""
		}
		if myVote != nil {
			hasVoted, option = true, myVote.OptionID
		}
		actions = append(actions,
			state.SetPoll{Poll: active},
			state.SetVote{HasVoted: hasVoted, OptionID: option},
			state.SetTimeRemaining{Seconds: active.RemainingAt(e.clock.Now())},
		)
	}
	e.reduceLocked(actions...)
	e.mu.Unlock()

	switch {
	case endedMeanwhile != "":
		log.Debug().Str("session_id", e.id).Str("poll_id", endedMeanwhile).Msg("Poll ended during reconcile")
		if e.timer.Running() == endedMeanwhile {
			e.timer.Cancel()
		}
	case active != nil:
		e.timer.Start(active)
	default:
		e.timer.Cancel()
	}

	log.Info().
		Str("session_id", e.id).
		Bool("active_poll", active != nil).
		Int("participants", len(roster)).
		Int("history", len(history)).
		Int("messages", len(messages)).
		Msg("Session reconciled")
	return nil
}

// RefreshHistory reloads the results of every ended poll, newest first.
func (e *Engine) RefreshHistory(ctx context.Context) error {
	if err := e.loadHistory(ctx); err != nil {
		return e.fail("refresh history", "Failed to load poll history", err)
	}
	return nil
}

func (e *Engine) readHistory(ctx context.Context) ([]models.PollResult, []string, error) {
	polls, err := e.store.ListEndedPolls(ctx, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list ended polls: %w", err)
	}
	results := make([]models.PollResult, 0, len(polls))
	ids := make([]string, 0, len(polls))
	for i := range polls {
		results = append(results, models.NewPollResult(&polls[i]))
		ids = append(ids, polls[i].ID)
	}
	return results, ids, nil
}

func (e *Engine) loadHistory(ctx context.Context) error {
	history, ids, err := e.readHistory(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	for _, id := range ids {
		e.ended[id] = true
	}
	e.reduceLocked(state.SetPollHistory{History: history})
	return nil
}

func (e *Engine) refreshRoster(ctx context.Context) {
	users, err := e.roster.Roster(ctx)
	if err != nil {
		log.Error().Err(err).Str("session_id", e.id).Msg("Failed to refresh participants")
		return
	}
	e.apply(state.SetParticipants{Participants: users})
}

// observePoll folds a poll row into the state. Ended rows never become the current
// poll, and an active row for a poll already known to have ended is a stale
// redelivery and is ignored.
func (e *Engine) observePoll(ctx context.Context, p *models.Poll) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	current := e.state.CurrentPoll

	if p.IsActive {
		if e.ended[p.ID] {
			e.mu.Unlock()
			log.Debug().Str("session_id", e.id).Str("poll_id", p.ID).Msg("Ignoring stale active row for ended poll")
			return
		}
		if current != nil && current.ID == p.ID {
			e.refreshCurrentLocked(current, p)
			e.mu.Unlock()
			return
		}

		e.reduceLocked(
			state.SetPoll{Poll: p},
			state.SetTimeRemaining{Seconds: p.RemainingAt(e.clock.Now())},
		)
		e.mu.Unlock()

		log.Info().
			Str("session_id", e.id).
			Str("poll_id", p.ID).
			Int("time_limit", p.TimeLimit).
			Msg("Poll observed")

		e.timer.Start(p)
		if current != nil {
			if err := e.loadHistory(ctx); err != nil {
				log.Error().Err(err).Str("session_id", e.id).Msg("Failed to reload poll history")
			}
		}
		return
	}

	e.ended[p.ID] = true
	wasCurrent := current != nil && current.ID == p.ID
	if wasCurrent {
		e.reduceLocked(state.SetPoll{Poll: nil})
	}
	known := e.state.HasHistoryFor(p.ID)
	e.mu.Unlock()

	if wasCurrent {
		if e.timer.Running() == p.ID {
			e.timer.Cancel()
		}
		log.Info().Str("session_id", e.id).Str("poll_id", p.ID).Int("total_votes", p.TotalVotes).Msg("Poll ended")
	}
	if !known {
		if err := e.loadHistory(ctx); err != nil {
			log.Error().Err(err).Str("session_id", e.id).Msg("Failed to reload poll history")
		}
	}
}

// refreshCurrentLocked applies a field update of the current poll. The reducer resets
// vote and timer state on SetPoll, so both are re-applied afterwards. Tallies only grow
// while a poll is active, so a row carrying fewer votes than already shown is an
// out-of-order delivery and keeps the newer counts.
func (e *Engine) refreshCurrentLocked(current, p *models.Poll) {
	next := p
	if p.TotalVotes < current.TotalVotes && len(p.Options) == len(current.Options) {
		next = p.Clone()
		next.Options = current.Clone().Options
		next.TotalVotes = current.TotalVotes
	}

	option := ""
	if e.state.UserVote != nil {
		option = *e.state.UserVote
	}
	e.reduceLocked(
		state.SetPoll{Poll: next},
		state.SetVote{HasVoted: e.state.HasVoted, OptionID: option},
		state.SetTimeRemaining{Seconds: next.RemainingAt(e.clock.Now())},
	)
}

// recount re-derives the current poll's tallies from the vote rows.
func (e *Engine) recount(ctx context.Context, pollID string) {
	e.mu.Lock()
	current := e.state.CurrentPoll
	e.mu.Unlock()
	if current == nil || !current.IsActive || (pollID != "" && current.ID != pollID) {
		return
	}

	recounted, err := e.votes.Recount(ctx, current)
	if err != nil {
		log.Error().Err(err).Str("session_id", e.id).Str("poll_id", current.ID).Msg("Failed to recount votes")
		return
	}
	e.observePoll(ctx, recounted)
}

// syncPoll re-reads one poll and folds it in, used after losing an end race.
func (e *Engine) syncPoll(ctx context.Context, pollID string) {
	p, err := e.store.GetPoll(ctx, pollID)
	if err != nil {
		log.Error().Err(err).Str("session_id", e.id).Str("poll_id", pollID).Msg("Failed to reload poll")
		return
	}
	e.observePoll(ctx, p)
}

// PollObserved implements feed.Sink.
func (e *Engine) PollObserved(ctx context.Context, p *models.Poll, inserted bool) {
	log.Debug().
		Str("session_id", e.id).
		Str("poll_id", p.ID).
		Bool("inserted", inserted).
		Bool("active", p.IsActive).
		Msg("Poll change received")
	e.observePoll(ctx, p)
}

// PollRemoved implements feed.Sink.
func (e *Engine) PollRemoved(ctx context.Context, pollID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	wasCurrent := e.state.CurrentPoll != nil && e.state.CurrentPoll.ID == pollID
	if wasCurrent {
		e.reduceLocked(state.SetPoll{Poll: nil})
	}
	e.mu.Unlock()

	if wasCurrent && e.timer.Running() == pollID {
		e.timer.Cancel()
	}
	if err := e.loadHistory(ctx); err != nil {
		log.Error().Err(err).Str("session_id", e.id).Msg("Failed to reload poll history")
	}
}

// VotesChanged implements feed.Sink. The payload is only used to pick the poll; the
// tallies are always recounted from the store.
func (e *Engine) VotesChanged(ctx context.Context, pollID string) {
	e.recount(ctx, pollID)
}

// ParticipantsChanged implements feed.Sink.
func (e *Engine) ParticipantsChanged(ctx context.Context, changed *models.Participant) {
	users, err := e.roster.Roster(ctx)
	if err != nil {
		log.Error().Err(err).Str("session_id", e.id).Msg("Failed to refresh participants")
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.reduceLocked(state.SetParticipants{Participants: users})
	user := e.state.User
	kicked := user != nil && !e.leaving && changed != nil && changed.ID == user.ID && !changed.IsActive
	e.mu.Unlock()

	if kicked {
		log.Info().Str("session_id", e.id).Str("user_id", user.ID).Msg("Removed from session by teacher")
		e.notify(NoticeKicked, "You have been removed from the session")
		e.teardown()
	}
}

// ChatMessageObserved implements feed.Sink.
func (e *Engine) ChatMessageObserved(_ context.Context, msg models.ChatMessage) {
	e.apply(state.AddChatMessage{Message: msg})
}
