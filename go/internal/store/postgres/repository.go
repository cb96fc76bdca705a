// Package postgres is the Postgres-backed store. Changes are published by the
// pollsync_notify_change trigger installed by the migrations.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
	"github.com/mcdev12/pollsync/go/internal/models"
	"github.com/mcdev12/pollsync/go/internal/sqlutil"
	"github.com/mcdev12/pollsync/go/internal/store"
)

// Repository implements store.Store on Postgres.
type Repository struct {
	db      *sql.DB
	queries *Queries
}

var _ store.Store = (*Repository)(nil)

// NewRepository creates a Repository over db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, queries: New(db)}
}

// Queries exposes the underlying query set.
func (r *Repository) Queries() *Queries {
	return r.queries
}

func (r *Repository) InsertParticipant(ctx context.Context, p models.Participant) error {
	joinedAt := p.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now()
	}
	err := r.queries.InsertParticipant(ctx, InsertParticipantParams{
		ID:       p.ID,
		Name:     p.Name,
		Role:     string(p.Role),
		IsActive: p.IsActive,
		JoinedAt: joinedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", mapError(err))
	}
	return nil
}

func (r *Repository) SetParticipantActive(ctx context.Context, userID string, active bool) error {
	n, err := r.queries.SetParticipantActive(ctx, userID, active)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", mapError(err))
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) ListActiveParticipants(ctx context.Context) ([]models.Participant, error) {
	rows, err := r.queries.ListActiveParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", mapError(err))
	}
	out := make([]models.Participant, len(rows))
	for i, row := range rows {
		out[i] = models.Participant{
			User:     models.User{ID: row.ID, Name: row.Name, Role: models.Role(row.Role)},
			IsActive: row.IsActive,
			JoinedAt: row.JoinedAt,
		}
	}
	return out, nil
}

func (r *Repository) CreatePoll(ctx context.Context, req store.CreatePollRequest) (*models.Poll, error) {
	options, err := json.Marshal(models.NewPollOptions(req.Options))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal poll options: %w", err)
	}

	row, err := r.queries.CreatePoll(ctx, CreatePollParams{
		Question:  req.Question,
		Options:   options,
		TimeLimit: int32(req.TimeLimit),
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poll: %w", mapError(err))
	}
	return pollToModel(row), nil
}

func (r *Repository) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	row, err := r.queries.GetPoll(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to get poll: %w", mapError(err))
	}
	return pollToModel(row), nil
}

func (r *Repository) GetActivePoll(ctx context.Context) (*models.Poll, error) {
	row, err := r.queries.GetActivePoll(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active poll: %w", mapError(err))
	}
	return pollToModel(row), nil
}

func (r *Repository) ListEndedPolls(ctx context.Context, limit int) ([]models.Poll, error) {
	rows, err := r.queries.ListEndedPolls(ctx, sqlutil.PositiveInt32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list ended polls: %w", mapError(err))
	}
	out := make([]models.Poll, len(rows))
	for i, row := range rows {
		out[i] = *pollToModel(row)
	}
	return out, nil
}

func (r *Repository) UpdatePollTally(ctx context.Context, pollID string, options []models.PollOption, total int) (bool, error) {
	raw, err := json.Marshal(options)
	if err != nil {
		return false, fmt.Errorf("failed to marshal poll options: %w", err)
	}
	n, err := r.queries.UpdatePollTally(ctx, UpdatePollTallyParams{
		ID:         pollID,
		Options:    raw,
		TotalVotes: int32(total),
	})
	if err != nil {
		return false, fmt.Errorf("failed to update poll tally: %w", mapError(err))
	}
	return n > 0, nil
}

// EndPoll locks the active row, recounts its votes and closes it in one transaction.
func (r *Repository) EndPoll(ctx context.Context, pollID string, endedAt time.Time) (*models.Poll, error) {
	var ended *models.Poll
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) *Queries { return r.queries.WithTx(tx) }, func(q *Queries) error {
		locked, err := q.LockActivePoll(ctx, pollID)
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := q.GetPoll(ctx, pollID); err != nil {
				return mapError(err)
			}
			return store.ErrPollNotActive
		}
		if err != nil {
			return mapError(err)
		}

		votes, err := q.ListVotes(ctx, pollID)
		if err != nil {
			return mapError(err)
		}
		poll := pollToModel(locked)
		options, total := models.TallyVotes(poll.Options, votesToModel(votes))
		raw, err := json.Marshal(options)
		if err != nil {
			return fmt.Errorf("failed to marshal poll options: %w", err)
		}

		row, err := q.EndPoll(ctx, EndPollParams{
			ID:         pollID,
			Options:    raw,
			TotalVotes: int32(total),
			EndedAt:    endedAt,
		})
		if err != nil {
			return mapError(err)
		}
		ended = pollToModel(row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to end poll: %w", err)
	}

	log.Info().Str("poll_id", pollID).Int("total_votes", ended.TotalVotes).Msg("Poll closed in store")
	return ended, nil
}

func (r *Repository) InsertVote(ctx context.Context, v models.Vote) error {
	n, err := r.queries.InsertVote(ctx, InsertVoteParams{
		PollID:   v.PollID,
		UserID:   v.UserID,
		OptionID: v.OptionID,
	})
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", mapError(err))
	}
	if n == 0 {
		return store.ErrPollNotActive
	}
	return nil
}

func (r *Repository) ListVotes(ctx context.Context, pollID string) ([]models.Vote, error) {
	rows, err := r.queries.ListVotes(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", mapError(err))
	}
	return votesToModel(rows), nil
}

func (r *Repository) GetVote(ctx context.Context, pollID, userID string) (*models.Vote, error) {
	row, err := r.queries.GetVote(ctx, pollID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get vote: %w", mapError(err))
	}
	v := voteToModel(row)
	return &v, nil
}

func (r *Repository) InsertChatMessage(ctx context.Context, req store.CreateChatMessageRequest) (*models.ChatMessage, error) {
	row, err := r.queries.InsertChatMessage(ctx, InsertChatMessageParams{
		Message:  req.Message,
		UserName: req.UserName,
		UserRole: string(req.UserRole),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat message: %w", mapError(err))
	}
	msg := chatToModel(row)
	return &msg, nil
}

func (r *Repository) ListRecentChatMessages(ctx context.Context, limit int) ([]models.ChatMessage, error) {
	rows, err := r.queries.ListRecentChatMessages(ctx, sqlutil.PositiveInt32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", mapError(err))
	}
	out := make([]models.ChatMessage, len(rows))
	for i, row := range rows {
		out[i] = chatToModel(row)
	}
	return out, nil
}

// pollToModel normalizes the options column the same way change events are parsed,
// so a NULL or non-array value becomes an empty option list.
func pollToModel(row Poll) *models.Poll {
	var raw json.RawMessage
	if row.Options.Valid {
		raw = row.Options.RawMessage
	}
	options := feed.ParseOptions(raw)
	total := 0
	for _, opt := range options {
		total += opt.Votes
	}

	p := &models.Poll{
		ID:         row.ID,
		Question:   row.Question,
		Options:    options,
		IsActive:   row.IsActive,
		TimeLimit:  int(row.TimeLimit),
		CreatedBy:  row.CreatedBy,
		CreatedAt:  row.CreatedAt,
		EndedAt:    sqlutil.FromSqlTime(row.EndedAt),
		TotalVotes: total,
	}
	return p
}

func voteToModel(row PollVote) models.Vote {
	return models.Vote{
		PollID:    row.PollID,
		UserID:    row.UserID,
		OptionID:  row.OptionID,
		CreatedAt: row.CreatedAt,
	}
}

func votesToModel(rows []PollVote) []models.Vote {
	out := make([]models.Vote, len(rows))
	for i, row := range rows {
		out[i] = voteToModel(row)
	}
	return out
}

func chatToModel(row ChatMessage) models.ChatMessage {
	return models.ChatMessage{
		ID:        row.ID,
		Message:   row.Message,
		UserName:  row.UserName,
		UserRole:  models.Role(row.UserRole),
		CreatedAt: row.CreatedAt,
	}
}
