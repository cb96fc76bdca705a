// Package chat relays append-only chat messages. Ordering and de-duplication of
// delivered messages are handled by the state reducer.
package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll/policy"
	"github.com/mcdev12/pollsync/go/internal/models"
	"github.com/mcdev12/pollsync/go/internal/store"
)

// Store is the subset of the backend the relay uses.
type Store interface {
	InsertChatMessage(ctx context.Context, req store.CreateChatMessageRequest) (*models.ChatMessage, error)
	ListRecentChatMessages(ctx context.Context, limit int) ([]models.ChatMessage, error)
}

// Relay sends and loads chat messages.
type Relay struct {
	store  Store
	policy policy.Config
}

// NewRelay creates a Relay.
func NewRelay(s Store, cfg policy.Config) *Relay {
	return &Relay{store: s, policy: cfg}
}

// Send appends a message from user. The store assigns id and timestamp.
func (r *Relay) Send(ctx context.Context, user *models.User, text string) (*models.ChatMessage, error) {
	if err := policy.RequireUser(user); err != nil {
		return nil, err
	}
	text, err := r.policy.ChatMessage(text)
	if err != nil {
		return nil, err
	}

	msg, err := r.store.InsertChatMessage(ctx, store.CreateChatMessageRequest{
		Message:  text,
		UserName: user.Name,
		UserRole: user.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send chat message: %w", err)
	}

	log.Debug().Str("message_id", msg.ID).Str("user_id", user.ID).Msg("Chat message sent")
	return msg, nil
}

// Recent loads the newest messages up to the configured history limit, oldest first.
func (r *Relay) Recent(ctx context.Context) ([]models.ChatMessage, error) {
	msgs, err := r.store.ListRecentChatMessages(ctx, r.policy.ChatHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat messages: %w", err)
	}
	return msgs, nil
}
