package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-consensus/internal/consensus"
	"github.com/example/ride-consensus/internal/dispatch"
	"github.com/example/ride-consensus/internal/models"
	"github.com/example/ride-consensus/internal/reputation"
	"github.com/example/ride-consensus/internal/storage"
	"github.com/example/ride-consensus/internal/survey"
	"github.com/example/ride-consensus/internal/voting"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := slog.Default()
	rep := &reputation.Service{Store: store, Logger: logger}
	resolver := consensus.NewResolver(store, nil, rep, logger)
	s := &Server{
		Store: store,
		Manager: &survey.Manager{
			Store:          store,
			Resolver:       resolver,
			Logger:         logger,
			GraceOffset:    24 * time.Hour,
			DeadlineWindow: 48 * time.Hour,
			ReminderAfter:  24 * time.Hour,
		},
		Collector:  &survey.Collector{Store: store, Logger: logger},
		Resolver:   resolver,
		Reputation: rep,
		Voting:     &voting.Service{Store: store, Logger: logger},
		WSReg:      dispatch.NewWSRegistry(),
		logger:     logger,
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, store
}

func seedOpenSurvey(t *testing.T, store *storage.MemoryStore, members ...string) *models.AttendanceSurvey {
	t.Helper()
	now := time.Now()
	store.SeedRide(&models.RideGroup{ID: "ride1", EventTime: now.Add(-30 * time.Hour)})
	for _, m := range members {
		store.SeedMembership(&models.Membership{RideID: "ride1", UserID: m, Status: models.MemberJoined})
	}
	sv := &models.AttendanceSurvey{
		ID: "sv1", RideID: "ride1", Status: models.SurveyInProgress,
		TotalMembers: len(members), SentAt: now, Deadline: now.Add(18 * time.Hour), UpdatedAt: now,
	}
	require.NoError(t, store.CreateSurvey(context.Background(), sv))
	return sv
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestSubmitReportEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	seedOpenSurvey(t, store, "a", "b")

	rec := doJSON(t, s, "POST", "/api/v1/surveys/sv1/responses",
		map[string]any{"responder_id": "a", "attended_user_ids": []string{"a", "b"}})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// duplicate submission conflicts and does not double count
	rec = doJSON(t, s, "POST", "/api/v1/surveys/sv1/responses",
		map[string]any{"responder_id": "a", "attended_user_ids": []string{"a"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	sv, err := store.GetSurvey(context.Background(), "sv1")
	require.NoError(t, err)
	assert.Equal(t, 1, sv.ResponsesReceived)
}

func TestSubmitReportUnknownSurvey(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/surveys/nope/responses",
		map[string]any{"responder_id": "a"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitReportNonMember(t *testing.T) {
	s, store := newTestServer(t)
	seedOpenSurvey(t, store, "a", "b")
	rec := doJSON(t, s, "POST", "/api/v1/surveys/sv1/responses",
		map[string]any{"responder_id": "stranger", "attended_user_ids": []string{"a"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitReportClosedSurvey(t *testing.T) {
	s, store := newTestServer(t)
	sv := seedOpenSurvey(t, store, "a", "b")
	require.NoError(t, store.MarkExpired(context.Background(), sv.ID, time.Now()))

	rec := doJSON(t, s, "POST", "/api/v1/surveys/sv1/responses",
		map[string]any{"responder_id": "a", "attended_user_ids": []string{"a"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	seedOpenSurvey(t, store, "a", "b")
	for _, responder := range []string{"a", "b"} {
		rec := doJSON(t, s, "POST", "/api/v1/surveys/sv1/responses",
			map[string]any{"responder_id": responder, "attended_user_ids": []string{"a", "b"}})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doJSON(t, s, "POST", "/api/v1/surveys/sv1/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res consensus.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Completions)
	assert.Equal(t, 2, res.TotalResponses)

	// second resolve reports already processed
	rec = doJSON(t, s, "POST", "/api/v1/surveys/sv1/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.AlreadyDone)

	// ledger visible through the completions endpoint
	rec = doJSON(t, s, "GET", "/api/v1/rides/ride1/completions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var completions []models.RideCompletion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completions))
	assert.Len(t, completions, 2)
}

func TestReputationEndpointUnratedUser(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "GET", "/api/v1/users/newbie/reputation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res reputation.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Unrated)
}

func TestCreateRatingValidation(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "POST", "/api/v1/users/u1/ratings",
		map[string]any{"rater_id": "u2", "rating": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, "POST", "/api/v1/users/u1/ratings",
		map[string]any{"rater_id": "u2", "ride_id": "ride1", "rating": 5, "comment": "great driver"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestMeetingVoteEndpoints(t *testing.T) {
	s, store := newTestServer(t)
	store.SeedRide(&models.RideGroup{ID: "ride1", EventTime: time.Now().Add(12 * time.Hour)})
	store.SeedMembership(&models.Membership{RideID: "ride1", UserID: "a", Status: models.MemberJoined})
	store.SeedMembership(&models.Membership{RideID: "ride1", UserID: "b", Status: models.MemberJoined})

	rec := doJSON(t, s, "POST", "/api/v1/rides/ride1/meeting-votes",
		map[string]any{"voter_id": "a", "option": "north-gate"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, s, "POST", "/api/v1/rides/ride1/meeting-votes",
		map[string]any{"voter_id": "b", "option": "north-gate"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, "GET", "/api/v1/rides/ride1/meeting-votes/tally", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tally voting.Tally
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tally))
	assert.Equal(t, "north-gate", tally.Leading)
	assert.Equal(t, 2, tally.TotalVotes)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
