package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
)

type Participant struct {
	ID       string
	Name     string
	Role     string
	IsActive bool
	JoinedAt time.Time
}

type Poll struct {
	ID         string
	Question   string
	Options    pqtype.NullRawMessage
	IsActive   bool
	TimeLimit  int32
	CreatedBy  string
	CreatedAt  time.Time
	EndedAt    sql.NullTime
	TotalVotes int32
}

type PollVote struct {
	PollID    string
	UserID    string
	OptionID  string
	CreatedAt time.Time
}

type ChatMessage struct {
	ID        string
	Message   string
	UserName  string
	UserRole  string
	CreatedAt time.Time
}

const pollColumns = `id::text, question, options, is_active, time_limit, created_by, created_at, ended_at, total_votes`

func scanPoll(row interface{ Scan(...interface{}) error }) (Poll, error) {
	var p Poll
	err := row.Scan(
		&p.ID,
		&p.Question,
		&p.Options,
		&p.IsActive,
		&p.TimeLimit,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.EndedAt,
		&p.TotalVotes,
	)
	return p, err
}

const insertParticipant = `
INSERT INTO participants (id, name, role, is_active, joined_at)
VALUES ($1, $2, $3, $4, $5)
`

type InsertParticipantParams struct {
	ID       string
	Name     string
	Role     string
	IsActive bool
	JoinedAt time.Time
}

func (q *Queries) InsertParticipant(ctx context.Context, arg InsertParticipantParams) error {
	_, err := q.db.ExecContext(ctx, insertParticipant, arg.ID, arg.Name, arg.Role, arg.IsActive, arg.JoinedAt)
	return err
}

const setParticipantActive = `
UPDATE participants SET is_active = $2 WHERE id = $1
`

func (q *Queries) SetParticipantActive(ctx context.Context, id string, active bool) (int64, error) {
	res, err := q.db.ExecContext(ctx, setParticipantActive, id, active)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listActiveParticipants = `
SELECT id, name, role, is_active, joined_at
FROM participants
WHERE is_active
ORDER BY joined_at, id
`

func (q *Queries) ListActiveParticipants(ctx context.Context) ([]Participant, error) {
	rows, err := q.db.QueryContext(ctx, listActiveParticipants)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.IsActive, &p.JoinedAt); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const createPoll = `
INSERT INTO polls (question, options, is_active, time_limit, created_by, total_votes)
VALUES ($1, $2, TRUE, $3, $4, 0)
RETURNING ` + pollColumns

type CreatePollParams struct {
	Question  string
	Options   json.RawMessage
	TimeLimit int32
	CreatedBy string
}

func (q *Queries) CreatePoll(ctx context.Context, arg CreatePollParams) (Poll, error) {
	row := q.db.QueryRowContext(ctx, createPoll, arg.Question, arg.Options, arg.TimeLimit, arg.CreatedBy)
	return scanPoll(row)
}

const getPoll = `SELECT ` + pollColumns + ` FROM polls WHERE id = $1::uuid`

func (q *Queries) GetPoll(ctx context.Context, id string) (Poll, error) {
	return scanPoll(q.db.QueryRowContext(ctx, getPoll, id))
}

const getActivePoll = `SELECT ` + pollColumns + ` FROM polls WHERE is_active LIMIT 1`

func (q *Queries) GetActivePoll(ctx context.Context) (Poll, error) {
	return scanPoll(q.db.QueryRowContext(ctx, getActivePoll))
}

const lockActivePoll = `SELECT ` + pollColumns + ` FROM polls WHERE id = $1::uuid AND is_active FOR UPDATE`

func (q *Queries) LockActivePoll(ctx context.Context, id string) (Poll, error) {
	return scanPoll(q.db.QueryRowContext(ctx, lockActivePoll, id))
}

const listEndedPolls = `
SELECT ` + pollColumns + `
FROM polls
WHERE NOT is_active
ORDER BY created_at DESC
LIMIT $1
`

// ListEndedPolls returns ended polls newest first. A NULL limit returns all rows.
func (q *Queries) ListEndedPolls(ctx context.Context, limit sql.NullInt32) ([]Poll, error) {
	rows, err := q.db.QueryContext(ctx, listEndedPolls, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const updatePollTally = `
UPDATE polls
SET options = $2, total_votes = $3
WHERE id = $1::uuid
  AND is_active
  AND (options IS DISTINCT FROM $2::jsonb OR total_votes <> $3)
`

type UpdatePollTallyParams struct {
	ID         string
	Options    json.RawMessage
	TotalVotes int32
}

func (q *Queries) UpdatePollTally(ctx context.Context, arg UpdatePollTallyParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updatePollTally, arg.ID, arg.Options, arg.TotalVotes)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const endPoll = `
UPDATE polls
SET options = $2, total_votes = $3, is_active = FALSE, ended_at = $4
WHERE id = $1::uuid AND is_active
RETURNING ` + pollColumns

type EndPollParams struct {
	ID         string
	Options    json.RawMessage
	TotalVotes int32
	EndedAt    time.Time
}

func (q *Queries) EndPoll(ctx context.Context, arg EndPollParams) (Poll, error) {
	row := q.db.QueryRowContext(ctx, endPoll, arg.ID, arg.Options, arg.TotalVotes, arg.EndedAt)
	return scanPoll(row)
}

const insertVote = `
INSERT INTO poll_votes (poll_id, user_id, option_id)
SELECT $1::uuid, $2, $3
WHERE EXISTS (SELECT 1 FROM polls WHERE id = $1::uuid AND is_active)
`

type InsertVoteParams struct {
	PollID   string
	UserID   string
	OptionID string
}

func (q *Queries) InsertVote(ctx context.Context, arg InsertVoteParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertVote, arg.PollID, arg.UserID, arg.OptionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listVotes = `
SELECT poll_id::text, user_id, option_id, created_at
FROM poll_votes
WHERE poll_id = $1::uuid
ORDER BY created_at, id
`

func (q *Queries) ListVotes(ctx context.Context, pollID string) ([]PollVote, error) {
	rows, err := q.db.QueryContext(ctx, listVotes, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PollVote
	for rows.Next() {
		var v PollVote
		if err := rows.Scan(&v.PollID, &v.UserID, &v.OptionID, &v.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const getVote = `
SELECT poll_id::text, user_id, option_id, created_at
FROM poll_votes
WHERE poll_id = $1::uuid AND user_id = $2
`

func (q *Queries) GetVote(ctx context.Context, pollID, userID string) (PollVote, error) {
	var v PollVote
	err := q.db.QueryRowContext(ctx, getVote, pollID, userID).Scan(&v.PollID, &v.UserID, &v.OptionID, &v.CreatedAt)
	return v, err
}

const insertChatMessage = `
INSERT INTO chat_messages (message, user_name, user_role)
VALUES ($1, $2, $3)
RETURNING id::text, message, user_name, user_role, created_at
`

type InsertChatMessageParams struct {
	Message  string
	UserName string
	UserRole string
}

func (q *Queries) InsertChatMessage(ctx context.Context, arg InsertChatMessageParams) (ChatMessage, error) {
	var m ChatMessage
	err := q.db.QueryRowContext(ctx, insertChatMessage, arg.Message, arg.UserName, arg.UserRole).
		Scan(&m.ID, &m.Message, &m.UserName, &m.UserRole, &m.CreatedAt)
	return m, err
}

const listRecentChatMessages = `
SELECT id, message, user_name, user_role, created_at
FROM (
    SELECT id::text AS id, message, user_name, user_role, created_at
    FROM chat_messages
    ORDER BY created_at DESC, id DESC
    LIMIT $1
) recent
ORDER BY created_at, id
`

func (q *Queries) ListRecentChatMessages(ctx context.Context, limit sql.NullInt32) ([]ChatMessage, error) {
	rows, err := q.db.QueryContext(ctx, listRecentChatMessages, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.Message, &m.UserName, &m.UserRole, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, rows.Err()
}

const rowJSON = `SELECT row_to_json(t)::text FROM %s t WHERE id::text = $1`

var rowJSONQueries = map[feed.Table]string{
	feed.TablePolls:        fmt.Sprintf(rowJSON, "polls"),
	feed.TableVotes:        fmt.Sprintf(rowJSON, "poll_votes"),
	feed.TableParticipants: fmt.Sprintf(rowJSON, "participants"),
	feed.TableChat:         fmt.Sprintf(rowJSON, "chat_messages"),
}

// RowJSON loads one row as JSON, encoded the same way as the change trigger.
func (q *Queries) RowJSON(ctx context.Context, table feed.Table, id string) (json.RawMessage, error) {
	query, ok := rowJSONQueries[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	var raw string
	if err := q.db.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
