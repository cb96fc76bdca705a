// Package participants maintains the roster. Participants are deactivated on kick or
// disconnect and never deleted.
package participants

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/livepoll/policy"
	"github.com/mcdev12/pollsync/go/internal/models"
)

// Store is the subset of the backend the tracker uses.
type Store interface {
	InsertParticipant(ctx context.Context, p models.Participant) error
	SetParticipantActive(ctx context.Context, userID string, active bool) error
	ListActiveParticipants(ctx context.Context) ([]models.Participant, error)
}

// Tracker joins, kicks and lists participants.
type Tracker struct {
	store  Store
	clock  clockwork.Clock
	policy policy.Config
}

// NewTracker creates a Tracker.
func NewTracker(s Store, clock clockwork.Clock, cfg policy.Config) *Tracker {
	return &Tracker{store: s, clock: clock, policy: cfg}
}

// Join creates an active participant with a fresh id and returns the new user.
func (t *Tracker) Join(ctx context.Context, name string, role models.Role) (models.User, error) {
	name, err := t.policy.DisplayName(name)
	if err != nil {
		return models.User{}, err
	}
	if !role.Valid() {
		return models.User{}, policy.Reject("Unknown role %q", role)
	}

	user := models.User{ID: uuid.NewString(), Name: name, Role: role}
	err = t.store.InsertParticipant(ctx, models.Participant{
		User:     user,
		IsActive: true,
		JoinedAt: t.clock.Now(),
	})
	if err != nil {
		return models.User{}, fmt.Errorf("failed to insert participant: %w", err)
	}

	log.Info().
		Str("user_id", user.ID).
		Str("name", user.Name).
		Str("role", string(user.Role)).
		Msg("Participant joined")
	return user, nil
}

// Kick deactivates userID. Only teachers may kick.
func (t *Tracker) Kick(ctx context.Context, caller *models.User, userID string) error {
	if err := policy.RequireTeacher(caller); err != nil {
		return err
	}
	if userID == "" {
		return policy.Reject("No participant selected")
	}
	if err := t.store.SetParticipantActive(ctx, userID, false); err != nil {
		return fmt.Errorf("failed to kick participant: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Str("kicked_by", caller.ID).
		Msg("Participant kicked")
	return nil
}

// Leave deactivates the caller's own participant.
func (t *Tracker) Leave(ctx context.Context, userID string) error {
	if err := t.store.SetParticipantActive(ctx, userID, false); err != nil {
		return fmt.Errorf("failed to deactivate participant: %w", err)
	}
	log.Info().Str("user_id", userID).Msg("Participant left")
	return nil
}

// Roster returns the active participants as users, in join order.
func (t *Tracker) Roster(ctx context.Context) ([]models.User, error) {
	rows, err := t.store.ListActiveParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	users := make([]models.User, 0, len(rows))
	for _, p := range rows {
		users = append(users, p.User)
	}
	return users, nil
}
