package votes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pollsync/go/internal/livepoll/policy"
	"github.com/mcdev12/pollsync/go/internal/livepoll/state"
	"github.com/mcdev12/pollsync/go/internal/models"
	"github.com/mcdev12/pollsync/go/internal/store"
	"github.com/mcdev12/pollsync/go/internal/store/memstore"
)

func activePoll(t *testing.T, s *memstore.Store) *models.Poll {
	t.Helper()
	p, err := s.CreatePoll(context.Background(), store.CreatePollRequest{
		Question:  "Capital of France?",
		Options:   []string{"Paris", "London"},
		TimeLimit: 30,
	})
	require.NoError(t, err)
	return p
}

func TestEligible(t *testing.T) {
	poll := &models.Poll{ID: "p1", IsActive: true, Options: models.NewPollOptions([]string{"a", "b"})}
	user := &models.User{ID: "u1", Role: models.RoleStudent}

	base := state.Initial()
	base.User = user
	base.CurrentPoll = poll

	assert.NoError(t, Eligible(base, "", "0"))
	assert.NoError(t, Eligible(base, "p1", "1"))

	noUser := base
	noUser.User = nil
	voted := base
	voted.HasVoted = true
	noPoll := base
	noPoll.CurrentPoll = nil

	for name, err := range map[string]error{
		"no user":        Eligible(noUser, "", "0"),
		"already voted":  Eligible(voted, "", "0"),
		"no poll":        Eligible(noPoll, "", "0"),
		"stale poll id":  Eligible(base, "p0", "0"),
		"unknown option": Eligible(base, "", "9"),
	} {
		assert.True(t, policy.IsRejection(err), name)
	}
}

func TestCastAndRecount(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(memstore.Config{})
	agg := NewAggregator(s)
	poll := activePoll(t, s)

	for _, v := range []struct{ user, option string }{{"s1", "0"}, {"s2", "0"}, {"s3", "1"}} {
		_, err := agg.Cast(ctx, poll.ID, v.user, v.option)
		require.NoError(t, err)
	}

	recounted, err := agg.Recount(ctx, poll)
	require.NoError(t, err)
	assert.Equal(t, 3, recounted.TotalVotes)
	assert.Equal(t, 2, recounted.Options[0].Votes)
	assert.Equal(t, 1, recounted.Options[1].Votes)
	assert.ElementsMatch(t, []string{"s1", "s2"}, recounted.Options[0].Voters)

	stored, err := s.GetPoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.TotalVotes, "recount is written back")

	again, err := agg.Recount(ctx, recounted)
	require.NoError(t, err)
	assert.Equal(t, recounted, again, "recount is idempotent")
}

func TestCastDuplicateReturnsExisting(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(memstore.Config{})
	agg := NewAggregator(s)
	poll := activePoll(t, s)

	_, err := agg.Cast(ctx, poll.ID, "s1", "1")
	require.NoError(t, err)

	existing, err := agg.Cast(ctx, poll.ID, "s1", "0")
	require.Error(t, err)
	assert.True(t, policy.IsRejection(err))
	require.NotNil(t, existing)
	assert.Equal(t, "1", existing.OptionID)

	votes, err := s.ListVotes(ctx, poll.ID)
	require.NoError(t, err)
	assert.Len(t, votes, 1)
}

func TestCastEndedPoll(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(memstore.Config{})
	agg := NewAggregator(s)
	poll := activePoll(t, s)

	_, err := s.EndPoll(ctx, poll.ID, time.Now())
	require.NoError(t, err)

	_, err = agg.Cast(ctx, poll.ID, "s1", "0")
	assert.True(t, policy.IsRejection(err))
}

func TestCastStoreFailure(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(memstore.Config{})
	agg := NewAggregator(s)
	poll := activePoll(t, s)

	boom := errors.New("connection reset")
	s.FailNext("InsertVote", boom)
	_, err := agg.Cast(ctx, poll.ID, "s1", "0")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, policy.IsRejection(err))
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	s := memstore.New(memstore.Config{})
	agg := NewAggregator(s)
	poll := activePoll(t, s)

	v, err := agg.Lookup(ctx, poll.ID, "s1")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = agg.Cast(ctx, poll.ID, "s1", "1")
	require.NoError(t, err)
	v, err = agg.Lookup(ctx, poll.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, "1", v.OptionID)
}
