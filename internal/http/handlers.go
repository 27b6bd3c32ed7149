package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-consensus/internal/config"
	"github.com/example/ride-consensus/internal/consensus"
	"github.com/example/ride-consensus/internal/dispatch"
	"github.com/example/ride-consensus/internal/models"
	"github.com/example/ride-consensus/internal/reputation"
	"github.com/example/ride-consensus/internal/storage"
	"github.com/example/ride-consensus/internal/survey"
	"github.com/example/ride-consensus/internal/voting"
)

type Server struct {
	Store      storage.Store
	Manager    *survey.Manager
	Collector  *survey.Collector
	Resolver   *consensus.Resolver
	Reputation *reputation.Service
	Voting     *voting.Service
	WSReg      *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the consensus core from config. Postgres and Kafka
// are optional: without a DSN the server falls back to the in-memory
// store, without brokers notifications go to the log sink. That keeps
// local runs dependency-free.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var store storage.Store
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Error("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	wsreg := dispatch.NewWSRegistry()
	sinks := []dispatch.Notifier{wsreg}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, dispatch.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic))
	} else {
		sinks = append(sinks, &dispatch.LogNotifier{Logger: logger})
	}
	notifier := &dispatch.MultiNotifier{Sinks: sinks}

	var cache *reputation.Cache
	if cfg.RedisAddr != "" {
		cache = reputation.NewCache(cfg.RedisAddr, cfg.RedisPassword, cfg.ReputationCacheTTL)
	}
	rep := &reputation.Service{Store: store, Cache: cache, Logger: logger}

	resolver := consensus.NewResolver(store, notifier, rep, logger)
	manager := &survey.Manager{
		Store:          store,
		Notifier:       notifier,
		Resolver:       resolver,
		Logger:         logger,
		GraceOffset:    cfg.GraceOffset,
		DeadlineWindow: cfg.DeadlineWindow,
		ReminderAfter:  cfg.ReminderAfter,
	}

	s := &Server{
		Store:      store,
		Manager:    manager,
		Collector:  &survey.Collector{Store: store, Logger: logger},
		Resolver:   resolver,
		Reputation: rep,
		Voting:     &voting.Service{Store: store, Logger: logger},
		WSReg:      wsreg,
		logger:     logger,
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/surveys/sweep", s.handleSweep).Methods("POST")
	api.HandleFunc("/surveys/{survey_id}", s.handleGetSurvey).Methods("GET")
	api.HandleFunc("/surveys/{survey_id}/responses", s.handleSubmitReport).Methods("POST")
	api.HandleFunc("/surveys/{survey_id}/resolve", s.handleResolve).Methods("POST")
	api.HandleFunc("/users/{user_id}/reputation", s.handleReputation).Methods("GET")
	api.HandleFunc("/users/{user_id}/ratings", s.handleCreateRating).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/completions", s.handleRideCompletions).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/meeting-votes", s.handleCastMeetingVote).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/meeting-votes/tally", s.handleMeetingTally).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	rep := s.Manager.Sweep(r.Context())
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGetSurvey(w http.ResponseWriter, r *http.Request) {
	sv, err := s.Store.GetSurvey(r.Context(), mux.Vars(r)["survey_id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

type submitReportRequest struct {
	ResponderID     string   `json:"responder_id"`
	AttendedUserIDs []string `json:"attended_user_ids"`
}

func (s *Server) handleSubmitReport(w http.ResponseWriter, r *http.Request) {
	var req submitReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ResponderID == "" {
		writeError(w, http.StatusBadRequest, "responder_id is required")
		return
	}
	surveyID := mux.Vars(r)["survey_id"]
	if err := s.Collector.SubmitReport(r.Context(), surveyID, req.ResponderID, req.AttendedUserIDs); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	res, err := s.Resolver.Resolve(r.Context(), mux.Vars(r)["survey_id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	res, err := s.Reputation.Score(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createRatingRequest struct {
	RaterID string `json:"rater_id"`
	RideID  string `json:"ride_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (s *Server) handleCreateRating(w http.ResponseWriter, r *http.Request) {
	var req createRatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RaterID == "" || req.Rating < 1 || req.Rating > 5 {
		writeError(w, http.StatusBadRequest, "rater_id and a rating between 1 and 5 are required")
		return
	}
	ratedID := mux.Vars(r)["user_id"]
	err := s.Store.InsertRating(r.Context(), &models.UserRating{
		RaterID: req.RaterID,
		RatedID: ratedID,
		RideID:  req.RideID,
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.Reputation.Invalidate(r.Context(), ratedID)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handleRideCompletions(w http.ResponseWriter, r *http.Request) {
	out, err := s.Store.ListCompletionsForRide(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type castVoteRequest struct {
	VoterID string `json:"voter_id"`
	Option  string `json:"option"`
}

func (s *Server) handleCastMeetingVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VoterID == "" || req.Option == "" {
		writeError(w, http.StatusBadRequest, "voter_id and option are required")
		return
	}
	if err := s.Voting.CastVote(r.Context(), mux.Vars(r)["ride_id"], req.VoterID, req.Option); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMeetingTally(w http.ResponseWriter, r *http.Request) {
	t, err := s.Voting.ComputeTally(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "upgrade failed")
		return
	}
	s.WSReg.Add(userID, conn)
}

// writeDomainError maps sentinel errors onto the HTTP surface: unknown
// ids are 404, state conflicts (closed, duplicate, exists) are 409,
// membership rejections are 403. Everything else is a 500 with the
// detail kept in the log, not the response.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrSurveyNotFound), errors.Is(err, models.ErrRideNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrSurveyClosed), errors.Is(err, models.ErrDuplicateResponse), errors.Is(err, models.ErrSurveyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNotMember):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
