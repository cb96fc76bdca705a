package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mcdev12/pollsync/go/internal/models"
)

// ErrMalformedPayload is returned when a row in a change event cannot be parsed into
// a domain value.
var ErrMalformedPayload = errors.New("malformed feed payload")

type pollRow struct {
	ID         string          `json:"id"`
	Question   string          `json:"question"`
	Options    json.RawMessage `json:"options"`
	IsActive   bool            `json:"is_active"`
	TimeLimit  int             `json:"time_limit"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
	EndedAt    *time.Time      `json:"ended_at"`
	TotalVotes int             `json:"total_votes"`
}

type optionRow struct {
	Text   string   `json:"text"`
	Votes  int      `json:"votes"`
	Voters []string `json:"voters"`
}

type voteRow struct {
	PollID    string    `json:"poll_id"`
	UserID    string    `json:"user_id"`
	OptionID  string    `json:"option_id"`
	CreatedAt time.Time `json:"created_at"`
}

type participantRow struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	IsActive bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}

type chatRow struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	UserName  string    `json:"user_name"`
	UserRole  string    `json:"user_role"`
	CreatedAt time.Time `json:"created_at"`
}

// ParsePoll converts a polls row into a Poll. Options that are not a JSON array are
// coerced to an empty list, and TotalVotes is recomputed from the options so the
// returned value always satisfies the vote conservation invariant.
func ParsePoll(raw json.RawMessage) (*models.Poll, error) {
	if isNull(raw) {
		return nil, fmt.Errorf("%w: empty poll row", ErrMalformedPayload)
	}
	var row pollRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("%w: poll row: %v", ErrMalformedPayload, err)
	}
	if row.ID == "" {
		return nil, fmt.Errorf("%w: poll row without id", ErrMalformedPayload)
	}

	options := ParseOptions(row.Options)
	total := 0
	for _, opt := range options {
		total += opt.Votes
	}

	return &models.Poll{
		ID:         row.ID,
		Question:   row.Question,
		Options:    options,
		IsActive:   row.IsActive,
		TimeLimit:  row.TimeLimit,
		CreatedBy:  row.CreatedBy,
		CreatedAt:  row.CreatedAt,
		EndedAt:    row.EndedAt,
		TotalVotes: total,
	}, nil
}

// ParseOptions decodes the options JSON column. Anything other than an array of
// option objects yields an empty list rather than an error. Option ids are positional.
func ParseOptions(raw json.RawMessage) []models.PollOption {
	var rows []json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &rows) != nil {
		return []models.PollOption{}
	}

	options := make([]models.PollOption, 0, len(rows))
	for i, item := range rows {
		var row optionRow
		if err := json.Unmarshal(item, &row); err != nil {
			row = optionRow{}
		}
		if row.Votes < 0 {
			row.Votes = 0
		}
		voters := row.Voters
		if voters == nil {
			voters = []string{}
		}
		options = append(options, models.PollOption{
			ID:     strconv.Itoa(i),
			Text:   row.Text,
			Votes:  row.Votes,
			Voters: voters,
		})
	}
	return options
}

// ParsePollID extracts only the id of a polls row, used for DELETE events.
func ParsePollID(raw json.RawMessage) (string, error) {
	var row struct {
		ID string `json:"id"`
	}
	if isNull(raw) || json.Unmarshal(raw, &row) != nil || row.ID == "" {
		return "", fmt.Errorf("%w: poll id", ErrMalformedPayload)
	}
	return row.ID, nil
}

// ParseVote converts a poll_votes row.
func ParseVote(raw json.RawMessage) (*models.Vote, error) {
	var row voteRow
	if isNull(raw) {
		return nil, fmt.Errorf("%w: empty vote row", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("%w: vote row: %v", ErrMalformedPayload, err)
	}
	if row.PollID == "" || row.UserID == "" {
		return nil, fmt.Errorf("%w: vote row without keys", ErrMalformedPayload)
	}
	return &models.Vote{
		PollID:    row.PollID,
		UserID:    row.UserID,
		OptionID:  row.OptionID,
		CreatedAt: row.CreatedAt,
	}, nil
}

// ParseParticipant converts a participants row.
func ParseParticipant(raw json.RawMessage) (*models.Participant, error) {
	var row participantRow
	if isNull(raw) {
		return nil, fmt.Errorf("%w: empty participant row", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("%w: participant row: %v", ErrMalformedPayload, err)
	}
	if row.ID == "" {
		return nil, fmt.Errorf("%w: participant row without id", ErrMalformedPayload)
	}
	return &models.Participant{
		User:     models.User{ID: row.ID, Name: row.Name, Role: models.Role(row.Role)},
		IsActive: row.IsActive,
		JoinedAt: row.JoinedAt,
	}, nil
}

// ParseChatMessage converts a chat_messages row.
func ParseChatMessage(raw json.RawMessage) (*models.ChatMessage, error) {
	var row chatRow
	if isNull(raw) {
		return nil, fmt.Errorf("%w: empty chat row", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("%w: chat row: %v", ErrMalformedPayload, err)
	}
	if row.ID == "" {
		return nil, fmt.Errorf("%w: chat row without id", ErrMalformedPayload)
	}
	return &models.ChatMessage{
		ID:        row.ID,
		Message:   row.Message,
		UserName:  row.UserName,
		UserRole:  models.Role(row.UserRole),
		CreatedAt: row.CreatedAt,
	}, nil
}
