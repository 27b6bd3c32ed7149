package reputation

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

func seedUser(t *testing.T, store *storage.MemoryStore, userID string, joined, completed int, stars []int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < joined; i++ {
		rideID := "ride-" + userID + "-" + string(rune('a'+i))
		store.SeedRide(&models.RideGroup{ID: rideID, EventTime: time.Now().Add(-48 * time.Hour)})
		store.SeedMembership(&models.Membership{RideID: rideID, UserID: userID, Status: models.MemberJoined})
		if i < completed {
			sv := &models.AttendanceSurvey{ID: "sv-" + rideID, RideID: rideID, Status: models.SurveyInProgress, SentAt: time.Now(), Deadline: time.Now(), UpdatedAt: time.Now()}
			require.NoError(t, store.CreateSurvey(ctx, sv))
			require.NoError(t, store.FinalizeConsensus(ctx, sv.ID, []*models.RideCompletion{
				{RideID: rideID, UserID: userID, Votes: 1, TotalVoters: 1, ConfirmedAt: time.Now()},
			}, time.Now()))
		}
	}
	for _, s := range stars {
		require.NoError(t, store.InsertRating(ctx, &models.UserRating{RaterID: "peer", RatedID: userID, Rating: s, CreatedAt: time.Now()}))
	}
}

func TestScoreFormula(t *testing.T) {
	store := storage.NewMemoryStore()
	// 8 of 10 rides completed, average stars 4.5
	seedUser(t, store, "u1", 10, 8, []int{4, 5, 4, 5})

	svc := &Service{Store: store, Logger: slog.Default()}
	res, err := svc.Score(context.Background(), "u1")
	require.NoError(t, err)

	assert.False(t, res.Unrated)
	assert.Equal(t, 8, res.CompletedRides)
	assert.Equal(t, 10, res.RidesJoined)
	assert.InDelta(t, 80.0, res.CompletionPct, 1e-9)
	assert.InDelta(t, 4.5, res.AvgStars, 1e-9)
	assert.InDelta(t, 3.6, res.Score, 1e-9)
}

func TestScoreFloorNoCompletions(t *testing.T) {
	store := storage.NewMemoryStore()
	// ratings exist but no confirmed rides: never a comparable score
	seedUser(t, store, "u1", 3, 0, []int{5, 5, 5})

	svc := &Service{Store: store, Logger: slog.Default()}
	res, err := svc.Score(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, res.Unrated)
	assert.Zero(t, res.Score)
}

func TestScoreNoRatingsIsUnratedNotZero(t *testing.T) {
	store := storage.NewMemoryStore()
	seedUser(t, store, "u1", 4, 4, nil)

	svc := &Service{Store: store, Logger: slog.Default()}
	res, err := svc.Score(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, res.Unrated, "completions without stars must read as unrated, not 0.0")
	assert.Equal(t, 4, res.CompletedRides)
}

func TestScoreBrandNewUser(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := &Service{Store: store, Logger: slog.Default()}
	res, err := svc.Score(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, res.Unrated)
}

func TestRound1(t *testing.T) {
	assert.InDelta(t, 3.6, round1(3.6000000001), 1e-9)
	assert.InDelta(t, 3.7, round1(3.66), 1e-9)
	assert.InDelta(t, 0.0, round1(0.04), 1e-9)
}
