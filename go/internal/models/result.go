package models

import (
	"math"
	"time"
)

// ResultOption is one option of a PollResult.
type ResultOption struct {
	Text       string `json:"text"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
}

// PollResult is the immutable snapshot of a poll taken when it ended.
type PollResult struct {
	PollID     string         `json:"poll_id"`
	Question   string         `json:"question"`
	Options    []ResultOption `json:"options"`
	TotalVotes int            `json:"total_votes"`
	CreatedAt  time.Time      `json:"created_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
}

// NewPollResult snapshots p. Percentages are rounded to whole numbers and are 0 when
// nobody voted.
func NewPollResult(p *Poll) PollResult {
	total := 0
	for _, opt := range p.Options {
		total += opt.Votes
	}

	options := make([]ResultOption, len(p.Options))
	for i, opt := range p.Options {
		options[i] = ResultOption{
			Text:       opt.Text,
			Votes:      opt.Votes,
			Percentage: Percentage(opt.Votes, total),
		}
	}

	result := PollResult{
		PollID:     p.ID,
		Question:   p.Question,
		Options:    options,
		TotalVotes: total,
		CreatedAt:  p.CreatedAt,
	}
	if p.EndedAt != nil {
		ended := *p.EndedAt
		result.EndedAt = &ended
	}
	return result
}

// Percentage returns round(votes/total*100), or 0 when total is 0.
func Percentage(votes, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(votes) / float64(total) * 100))
}
