package voting

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-consensus/internal/models"
	"github.com/example/ride-consensus/internal/storage"
)

func newVotingService(members ...string) (*Service, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	store.SeedRide(&models.RideGroup{ID: "ride1", EventTime: time.Now().Add(12 * time.Hour)})
	for _, m := range members {
		store.SeedMembership(&models.Membership{RideID: "ride1", UserID: m, Status: models.MemberJoined})
	}
	return &Service{Store: store, Logger: slog.Default()}, store
}

func TestCastVoteAndTally(t *testing.T) {
	svc, _ := newVotingService("a", "b", "c")
	ctx := context.Background()

	require.NoError(t, svc.CastVote(ctx, "ride1", "a", "north-gate"))
	require.NoError(t, svc.CastVote(ctx, "ride1", "b", "north-gate"))
	require.NoError(t, svc.CastVote(ctx, "ride1", "c", "parking-b"))

	tally, err := svc.ComputeTally(ctx, "ride1")
	require.NoError(t, err)
	assert.Equal(t, 3, tally.TotalVotes)
	assert.Equal(t, "north-gate", tally.Leading)
	assert.Equal(t, 2, tally.Counts["north-gate"])
	assert.Equal(t, 1, tally.Counts["parking-b"])
}

func TestCastVoteReplacesPreviousPick(t *testing.T) {
	svc, _ := newVotingService("a", "b")
	ctx := context.Background()

	require.NoError(t, svc.CastVote(ctx, "ride1", "a", "north-gate"))
	require.NoError(t, svc.CastVote(ctx, "ride1", "a", "parking-b"))

	tally, err := svc.ComputeTally(ctx, "ride1")
	require.NoError(t, err)
	assert.Equal(t, 1, tally.TotalVotes, "a revote replaces, never adds")
	assert.Equal(t, "parking-b", tally.Leading)
}

func TestTallyTieIsStable(t *testing.T) {
	svc, _ := newVotingService("a", "b")
	ctx := context.Background()

	require.NoError(t, svc.CastVote(ctx, "ride1", "a", "zeta"))
	require.NoError(t, svc.CastVote(ctx, "ride1", "b", "alpha"))

	tally, err := svc.ComputeTally(ctx, "ride1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", tally.Leading, "ties break by option name")
}

func TestCastVoteNonMember(t *testing.T) {
	svc, _ := newVotingService("a")
	err := svc.CastVote(context.Background(), "ride1", "stranger", "north-gate")
	assert.ErrorIs(t, err, models.ErrNotMember)
}

func TestTallyEmptyRide(t *testing.T) {
	svc, _ := newVotingService("a")
	tally, err := svc.ComputeTally(context.Background(), "ride1")
	require.NoError(t, err)
	assert.Zero(t, tally.TotalVotes)
	assert.Empty(t, tally.Leading)
}
