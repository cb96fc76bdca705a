package participants

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pollsync/go/internal/livepoll/policy"
	"github.com/mcdev12/pollsync/go/internal/models"
	"github.com/mcdev12/pollsync/go/internal/store"
	"github.com/mcdev12/pollsync/go/internal/store/memstore"
)

func newTracker() (*Tracker, *memstore.Store) {
	clock := clockwork.NewFakeClock()
	s := memstore.New(memstore.Config{Clock: clock})
	return NewTracker(s, clock, policy.DefaultConfig()), s
}

func TestJoinAndRoster(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()

	names := []string{gofakeit.FirstName(), gofakeit.FirstName(), gofakeit.FirstName()}
	var ids []string
	for _, name := range names {
		u, err := tr.Join(ctx, "  "+name+" ", models.RoleStudent)
		require.NoError(t, err)
		assert.Equal(t, name, u.Name)
		assert.NotEmpty(t, u.ID)
		ids = append(ids, u.ID)
	}

	roster, err := tr.Roster(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 3)
	for i, u := range roster {
		assert.Equal(t, ids[i], u.ID)
	}
}

func TestJoinRejections(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()

	_, err := tr.Join(ctx, "   ", models.RoleStudent)
	assert.True(t, policy.IsRejection(err))

	_, err = tr.Join(ctx, "Ana", models.Role("admin"))
	assert.True(t, policy.IsRejection(err))
}

func TestKickKeepsRow(t *testing.T) {
	ctx := context.Background()
	tr, s := newTracker()

	teacher, err := tr.Join(ctx, "Ms. T", models.RoleTeacher)
	require.NoError(t, err)
	student, err := tr.Join(ctx, "Ana", models.RoleStudent)
	require.NoError(t, err)

	err = tr.Kick(ctx, &student, teacher.ID)
	assert.True(t, policy.IsRejection(err), "students cannot kick")

	require.NoError(t, tr.Kick(ctx, &teacher, student.ID))

	roster, err := tr.Roster(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, teacher.ID, roster[0].ID)

	// The row is retained: reactivating it succeeds rather than failing as missing.
	require.NoError(t, s.SetParticipantActive(ctx, student.ID, true))
}

func TestKickUnknown(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()

	teacher, err := tr.Join(ctx, "Ms. T", models.RoleTeacher)
	require.NoError(t, err)

	err = tr.Kick(ctx, &teacher, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()

	u, err := tr.Join(ctx, "Ana", models.RoleStudent)
	require.NoError(t, err)
	require.NoError(t, tr.Leave(ctx, u.ID))

	roster, err := tr.Roster(ctx)
	require.NoError(t, err)
	assert.Empty(t, roster)
}
