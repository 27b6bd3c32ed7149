package survey

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-consensus/internal/consensus"
	"github.com/example/ride-consensus/internal/models"
	"github.com/example/ride-consensus/internal/storage"
)

type recordingNotifier struct {
	sent []models.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n models.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func newTestManager(store storage.Store, notifier *recordingNotifier, now time.Time) *Manager {
	logger := slog.Default()
	return &Manager{
		Store:          store,
		Notifier:       notifier,
		Resolver:       consensus.NewResolver(store, notifier, nil, logger),
		Logger:         logger,
		GraceOffset:    24 * time.Hour,
		DeadlineWindow: 48 * time.Hour,
		ReminderAfter:  24 * time.Hour,
		now:            func() time.Time { return now },
	}
}

func seedRideWithMembers(store *storage.MemoryStore, rideID string, eventTime time.Time, members ...string) {
	store.SeedRide(&models.RideGroup{ID: rideID, EventID: "ev1", EventTime: eventTime, TravelMode: models.ModeCarpool, Capacity: 4})
	for _, m := range members {
		store.SeedMembership(&models.Membership{RideID: rideID, UserID: m, Status: models.MemberJoined})
	}
}

func TestSweepCreatesSurveyOncePerRide(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	seedRideWithMembers(store, "ride1", now.Add(-30*time.Hour), "a", "b", "c")
	// invited members are not part of the eligible snapshot
	store.SeedMembership(&models.Membership{RideID: "ride1", UserID: "d", Status: models.MemberInvited})
	notifier := &recordingNotifier{}
	m := newTestManager(store, notifier, now)

	rep := m.Sweep(context.Background())
	assert.Equal(t, 1, rep.Created)
	assert.Zero(t, rep.Errors)

	surveys, err := store.ListSurveysNeedingReminder(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, surveys, 1)
	sv := surveys[0]
	assert.Equal(t, "ride1", sv.RideID)
	assert.Equal(t, 3, sv.TotalMembers, "snapshot counts joined members only")
	assert.Equal(t, now.Add(-30*time.Hour).Add(48*time.Hour), sv.Deadline)

	// every joined member notified
	assert.Len(t, notifier.sent, 3)
	for _, n := range notifier.sent {
		assert.Equal(t, models.NotifySurveyCreated, n.Kind)
	}

	// second sweep is a no-op for this ride
	rep = m.Sweep(context.Background())
	assert.Zero(t, rep.Created)
}

func TestSweepRideTooRecentNotSurveyed(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	seedRideWithMembers(store, "ride1", now.Add(-2*time.Hour), "a", "b")
	m := newTestManager(store, &recordingNotifier{}, now)

	rep := m.Sweep(context.Background())
	assert.Zero(t, rep.Created)
}

func TestSweepSendsReminderOnce(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	seedRideWithMembers(store, "ride1", now.Add(-30*time.Hour), "a", "b", "c")
	notifier := &recordingNotifier{}
	m := newTestManager(store, notifier, now)

	require.Equal(t, 1, m.Sweep(context.Background()).Created)
	notifier.sent = nil

	surveys, err := store.ListSurveysNeedingReminder(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, surveys, 1)
	svID := surveys[0].ID

	// "a" responds before the reminder pass
	require.NoError(t, store.InsertResponse(context.Background(), &models.AttendanceResponse{
		SurveyID: svID, ResponderID: "a", AttendedUserIDs: []string{"a", "b", "c"}, CreatedAt: now,
	}))

	// 25h later the reminder pass fires for non-responders only
	m.now = func() time.Time { return now.Add(25 * time.Hour) }
	rep := m.Sweep(context.Background())
	assert.Equal(t, 1, rep.Reminded)

	reminded := map[string]bool{}
	for _, n := range notifier.sent {
		if n.Kind == models.NotifySurveyReminder {
			reminded[n.UserID] = true
		}
	}
	assert.Equal(t, map[string]bool{"b": true, "c": true}, reminded)

	// a later sweep does not remind again
	notifier.sent = nil
	m.now = func() time.Time { return now.Add(30 * time.Hour) }
	rep = m.Sweep(context.Background())
	assert.Zero(t, rep.Reminded)
	assert.Empty(t, notifier.sent)
}

func TestSweepExpiresAndResolves(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	seedRideWithMembers(store, "ride1", now.Add(-30*time.Hour), "a", "b")
	notifier := &recordingNotifier{}
	m := newTestManager(store, notifier, now)
	require.Equal(t, 1, m.Sweep(context.Background()).Created)

	surveys, err := store.ListSurveysNeedingReminder(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	svID := surveys[0].ID
	require.NoError(t, store.InsertResponse(context.Background(), &models.AttendanceResponse{
		SurveyID: svID, ResponderID: "a", AttendedUserIDs: []string{"a", "b"}, CreatedAt: now,
	}))
	require.NoError(t, store.InsertResponse(context.Background(), &models.AttendanceResponse{
		SurveyID: svID, ResponderID: "b", AttendedUserIDs: []string{"a", "b"}, CreatedAt: now,
	}))

	// jump past the deadline (event_time + 48h)
	m.now = func() time.Time { return now.Add(20 * time.Hour) }
	rep := m.Sweep(context.Background())
	assert.Equal(t, 1, rep.Expired)

	sv, err := store.GetSurvey(context.Background(), svID)
	require.NoError(t, err)
	assert.Equal(t, models.SurveyCompleted, sv.Status)
	assert.True(t, sv.ConsensusProcessed)

	completions, err := store.ListCompletionsForRide(context.Background(), "ride1")
	require.NoError(t, err)
	assert.Len(t, completions, 2)
}

// faultyStore fails member lookups for one ride to prove sweeps skip
// the broken item and keep going.
type faultyStore struct {
	storage.Store
	brokenRide string
}

func (f *faultyStore) ListJoinedMembers(ctx context.Context, rideID string) ([]string, error) {
	if rideID == f.brokenRide {
		return nil, errors.New("membership lookup down")
	}
	return f.Store.ListJoinedMembers(ctx, rideID)
}

func TestSweepIsolatesPerRideFailures(t *testing.T) {
	mem := storage.NewMemoryStore()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	seedRideWithMembers(mem, "rideA", now.Add(-30*time.Hour), "a1", "a2")
	seedRideWithMembers(mem, "rideB", now.Add(-30*time.Hour), "b1", "b2")

	store := &faultyStore{Store: mem, brokenRide: "rideA"}
	m := newTestManager(store, &recordingNotifier{}, now)
	m.Resolver = consensus.NewResolver(store, nil, nil, slog.Default())

	rep := m.Sweep(context.Background())
	assert.Equal(t, 1, rep.Created, "rideB must still be surveyed")
	assert.Equal(t, 1, rep.Errors, "rideA failure is counted, not fatal")

	surveys, err := mem.ListSurveysNeedingReminder(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, surveys, 1)
	assert.Equal(t, "rideB", surveys[0].RideID)
}
