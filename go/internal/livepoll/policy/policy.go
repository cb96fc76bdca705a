// Package policy holds the validation rules for user-issued operations. A failed rule
// is a Rejection: the operation becomes a no-op and the caller gets a notice.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mcdev12/pollsync/go/internal/models"
)

// Config holds the limits applied to polls, chat and names.
type Config struct {
	MinTimeLimit     int `yaml:"min_time_limit_sec"`
	MaxTimeLimit     int `yaml:"max_time_limit_sec"`
	DefaultTimeLimit int `yaml:"default_time_limit_sec"`
	MinOptions       int `yaml:"min_options"`
	MaxOptions       int `yaml:"max_options"`
	MaxQuestionLen   int `yaml:"max_question_len"`
	MaxMessageLen    int `yaml:"max_message_len"`
	MaxNameLen       int `yaml:"max_name_len"`
	ChatHistoryLimit int `yaml:"chat_history_limit"`
}

// DefaultConfig returns the standard classroom limits.
func DefaultConfig() Config {
	return Config{
		MinTimeLimit:     10,
		MaxTimeLimit:     300,
		DefaultTimeLimit: 60,
		MinOptions:       2,
		MaxOptions:       6,
		MaxQuestionLen:   200,
		MaxMessageLen:    500,
		MaxNameLen:       50,
		ChatHistoryLimit: 50,
	}
}

// Rejection is a policy failure. It is reported to the user, never treated as a fault.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return r.Reason
}

// Reject returns a Rejection with the given reason.
func Reject(format string, args ...any) error {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is, or wraps, a Rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// PollDraft is a validated, normalized poll creation request.
type PollDraft struct {
	Question  string
	Options   []string
	TimeLimit int
}

// NewPoll trims the question and options, drops empty options and applies the limits.
// A zero timeLimit selects the default.
func (c Config) NewPoll(question string, options []string, timeLimit int) (PollDraft, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return PollDraft{}, Reject("Please enter a question")
	}
	if utf8.RuneCountInString(question) > c.MaxQuestionLen {
		return PollDraft{}, Reject("Question must be at most %d characters", c.MaxQuestionLen)
	}

	kept := make([]string, 0, len(options))
	for _, opt := range options {
		if opt = strings.TrimSpace(opt); opt != "" {
			kept = append(kept, opt)
		}
	}
	if len(kept) < c.MinOptions {
		return PollDraft{}, Reject("Please provide at least %d options", c.MinOptions)
	}
	if len(kept) > c.MaxOptions {
		return PollDraft{}, Reject("A poll can have at most %d options", c.MaxOptions)
	}

	if timeLimit == 0 {
		timeLimit = c.DefaultTimeLimit
	}
	if timeLimit < c.MinTimeLimit || timeLimit > c.MaxTimeLimit {
		return PollDraft{}, Reject("Time limit must be between %d and %d seconds", c.MinTimeLimit, c.MaxTimeLimit)
	}

	return PollDraft{Question: question, Options: kept, TimeLimit: timeLimit}, nil
}

// ChatMessage trims text and checks its length.
func (c Config) ChatMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", Reject("Message is empty")
	}
	if utf8.RuneCountInString(text) > c.MaxMessageLen {
		return "", Reject("Message must be at most %d characters", c.MaxMessageLen)
	}
	return text, nil
}

// DisplayName trims name and checks its length.
func (c Config) DisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Reject("Please enter your name")
	}
	if utf8.RuneCountInString(name) > c.MaxNameLen {
		return "", Reject("Name must be at most %d characters", c.MaxNameLen)
	}
	return name, nil
}

// RequireUser rejects callers that have not joined.
func RequireUser(u *models.User) error {
	if u == nil {
		return Reject("Join the session first")
	}
	return nil
}

// RequireTeacher rejects callers that did not join as a teacher. The role is
// self-asserted at join, so this is a client-side guard only.
func RequireTeacher(u *models.User) error {
	if err := RequireUser(u); err != nil {
		return err
	}
	if !u.IsTeacher() {
		return Reject("Only the teacher can do that")
	}
	return nil
}
