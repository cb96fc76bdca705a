package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
	"github.com/mcdev12/pollsync/go/internal/models"
	"github.com/mcdev12/pollsync/go/internal/store"
)

// openTestDB connects to POLLSYNC_TEST_DSN, migrates it and empties every table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("POLLSYNC_TEST_DSN")
	if dsn == "" {
		t.Skip("POLLSYNC_TEST_DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Ping())
	require.NoError(t, MigrateUp(db))

	_, err = db.Exec(`TRUNCATE chat_messages, poll_votes, polls, participants`)
	require.NoError(t, err)
	return db
}

func TestRepository_PollLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	teacher := uuid.NewString()
	poll, err := repo.CreatePoll(ctx, store.CreatePollRequest{
		Question:  "Capital of France?",
		Options:   []string{"Paris", "Lyon", "Nice"},
		TimeLimit: 60,
		CreatedBy: teacher,
	})
	require.NoError(t, err)
	assert.True(t, poll.IsActive)
	assert.Len(t, poll.Options, 3)

	_, err = repo.CreatePoll(ctx, store.CreatePollRequest{
		Question: "Another?", Options: []string{"a", "b"}, TimeLimit: 30, CreatedBy: teacher,
	})
	assert.ErrorIs(t, err, store.ErrPollAlreadyActive)

	active, err := repo.GetActivePoll(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, poll.ID, active.ID)

	voters := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	choices := []string{poll.Options[0].ID, poll.Options[0].ID, poll.Options[1].ID}
	for i, v := range voters {
		require.NoError(t, repo.InsertVote(ctx, models.Vote{PollID: poll.ID, UserID: v, OptionID: choices[i]}))
	}
	err = repo.InsertVote(ctx, models.Vote{PollID: poll.ID, UserID: voters[0], OptionID: poll.Options[2].ID})
	assert.ErrorIs(t, err, store.ErrDuplicateVote)

	vote, err := repo.GetVote(ctx, poll.ID, voters[2])
	require.NoError(t, err)
	assert.Equal(t, poll.Options[1].ID, vote.OptionID)

	ended, err := repo.EndPoll(ctx, poll.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ended.IsActive)
	assert.Equal(t, 3, ended.TotalVotes)
	assert.Equal(t, 2, ended.Options[0].Votes)
	require.NotNil(t, ended.EndedAt)

	_, err = repo.EndPoll(ctx, poll.ID, time.Now())
	assert.ErrorIs(t, err, store.ErrPollNotActive)

	_, err = repo.EndPoll(ctx, uuid.NewString(), time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = repo.InsertVote(ctx, models.Vote{PollID: poll.ID, UserID: uuid.NewString(), OptionID: poll.Options[0].ID})
	assert.ErrorIs(t, err, store.ErrPollNotActive)

	active, err = repo.GetActivePoll(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	history, err := repo.ListEndedPolls(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, poll.ID, history[0].ID)
}

func TestRepository_UpdatePollTallyOnlyWhenChanged(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	poll, err := repo.CreatePoll(ctx, store.CreatePollRequest{
		Question: "Best season?", Options: []string{"Spring", "Autumn"}, TimeLimit: 30, CreatedBy: uuid.NewString(),
	})
	require.NoError(t, err)

	user := uuid.NewString()
	votes := []models.Vote{{PollID: poll.ID, UserID: user, OptionID: poll.Options[1].ID}}
	options, total := models.TallyVotes(poll.Options, votes)

	changed, err := repo.UpdatePollTally(ctx, poll.ID, options, total)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.UpdatePollTally(ctx, poll.ID, options, total)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := repo.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{user}, got.Options[1].Voters)
}

func TestRepository_ParticipantsAndChat(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	p := models.Participant{
		User:     models.User{ID: uuid.NewString(), Name: gofakeit.FirstName(), Role: models.RoleStudent},
		IsActive: true,
	}
	require.NoError(t, repo.InsertParticipant(ctx, p))
	assert.ErrorIs(t, repo.InsertParticipant(ctx, p), store.ErrDuplicateParticipant)

	roster, err := repo.ListActiveParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, p.Name, roster[0].Name)

	require.NoError(t, repo.SetParticipantActive(ctx, p.ID, false))
	assert.ErrorIs(t, repo.SetParticipantActive(ctx, "nobody", false), store.ErrNotFound)

	roster, err = repo.ListActiveParticipants(ctx)
	require.NoError(t, err)
	assert.Empty(t, roster)

	for i := 0; i < 5; i++ {
		_, err := repo.InsertChatMessage(ctx, store.CreateChatMessageRequest{
			Message: gofakeit.Phrase(), UserName: p.Name, UserRole: p.Role,
		})
		require.NoError(t, err)
	}

	recent, err := repo.ListRecentChatMessages(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.False(t, recent[2].CreatedAt.Before(recent[0].CreatedAt))
}

func TestQueries_RowJSON(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	poll, err := repo.CreatePoll(ctx, store.CreatePollRequest{
		Question: "Pick one", Options: []string{"x", "y"}, TimeLimit: 20, CreatedBy: uuid.NewString(),
	})
	require.NoError(t, err)

	raw, err := repo.Queries().RowJSON(ctx, feed.TablePolls, poll.ID)
	require.NoError(t, err)

	parsed, err := feed.ParsePoll(raw)
	require.NoError(t, err)
	assert.Equal(t, poll.ID, parsed.ID)
	assert.Len(t, parsed.Options, 2)
}
