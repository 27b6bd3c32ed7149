package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-consensus/internal/models"
)

// MemoryStore is an in-memory Store used by tests and by local runs
// without a Postgres DSN. A single mutex guards every table; the
// consensus compare-and-set happens under that lock, which gives the
// same at-most-once guarantee the SQL conditional update provides.
type MemoryStore struct {
	mu           sync.RWMutex
	rides        map[string]*models.RideGroup
	memberships  map[string][]*models.Membership
	surveys      map[string]*models.AttendanceSurvey
	surveyByRide map[string]string
	responses    map[string]map[string]*models.AttendanceResponse
	completions  []*models.RideCompletion
	ratings      []*models.UserRating
	payments     map[string]*models.Payment
	meetingVotes map[string]map[string]*models.MeetingPointVote
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:        make(map[string]*models.RideGroup),
		memberships:  make(map[string][]*models.Membership),
		surveys:      make(map[string]*models.AttendanceSurvey),
		surveyByRide: make(map[string]string),
		responses:    make(map[string]map[string]*models.AttendanceResponse),
		payments:     make(map[string]*models.Payment),
		meetingVotes: make(map[string]map[string]*models.MeetingPointVote),
	}
}

// SeedRide and the other Seed helpers populate read-only ground truth
// that is owned by the membership layer in production.
func (m *MemoryStore) SeedRide(r *models.RideGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r
}

func (m *MemoryStore) SeedMembership(mem *models.Membership) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[mem.RideID] = append(m.memberships[mem.RideID], mem)
}

func (m *MemoryStore) SeedPayment(p *models.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.RideID] = p
}

func (m *MemoryStore) ListRidesAwaitingSurvey(ctx context.Context, endedBefore time.Time) ([]*models.RideGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.RideGroup, 0)
	for _, r := range m.rides {
		if !r.EventTime.Before(endedBefore) {
			continue
		}
		if _, surveyed := m.surveyByRide[r.ID]; surveyed {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListJoinedMembers(ctx context.Context, rideID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for _, mem := range m.memberships[rideID] {
		if mem.Status == models.MemberJoined {
			out = append(out, mem.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) IsJoinedMember(ctx context.Context, rideID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mem := range m.memberships[rideID] {
		if mem.UserID == userID && mem.Status == models.MemberJoined {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) CountJoinedRides(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, mems := range m.memberships {
		for _, mem := range mems {
			if mem.UserID == userID && mem.Status == models.MemberJoined {
				n++
			}
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateSurvey(ctx context.Context, s *models.AttendanceSurvey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.surveyByRide[s.RideID]; exists {
		return models.ErrSurveyExists
	}
	cp := *s
	m.surveys[s.ID] = &cp
	m.surveyByRide[s.RideID] = s.ID
	m.responses[s.ID] = make(map[string]*models.AttendanceResponse)
	return nil
}

func (m *MemoryStore) GetSurvey(ctx context.Context, surveyID string) (*models.AttendanceSurvey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.surveys[surveyID]
	if !ok {
		return nil, models.ErrSurveyNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSurveysNeedingReminder(ctx context.Context, sentBefore time.Time) ([]*models.AttendanceSurvey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AttendanceSurvey, 0)
	for _, s := range m.surveys {
		if s.Status == models.SurveyInProgress && s.ReminderSentAt == nil && s.SentAt.Before(sentBefore) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListSurveysPastDeadline(ctx context.Context, now time.Time) ([]*models.AttendanceSurvey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AttendanceSurvey, 0)
	for _, s := range m.surveys {
		if s.Status == models.SurveyInProgress && !s.ConsensusProcessed && s.Deadline.Before(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) MarkReminderSent(ctx context.Context, surveyID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surveys[surveyID]
	if !ok {
		return models.ErrSurveyNotFound
	}
	s.ReminderSentAt = &at
	s.UpdatedAt = at
	return nil
}

func (m *MemoryStore) MarkExpired(ctx context.Context, surveyID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surveys[surveyID]
	if !ok {
		return models.ErrSurveyNotFound
	}
	if s.Status == models.SurveyInProgress {
		s.Status = models.SurveyExpired
		s.UpdatedAt = at
	}
	return nil
}

func (m *MemoryStore) FinalizeConsensus(ctx context.Context, surveyID string, completions []*models.RideCompletion, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surveys[surveyID]
	if !ok {
		return models.ErrSurveyNotFound
	}
	if s.ConsensusProcessed {
		return models.ErrAlreadyProcessed
	}
	s.ConsensusProcessed = true
	s.Status = models.SurveyCompleted
	s.UpdatedAt = at
	m.completions = append(m.completions, completions...)
	return nil
}

func (m *MemoryStore) InsertResponse(ctx context.Context, r *models.AttendanceResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surveys[r.SurveyID]
	if !ok {
		return models.ErrSurveyNotFound
	}
	byResponder := m.responses[r.SurveyID]
	if _, dup := byResponder[r.ResponderID]; dup {
		return models.ErrDuplicateResponse
	}
	cp := *r
	cp.AttendedUserIDs = append([]string(nil), r.AttendedUserIDs...)
	byResponder[r.ResponderID] = &cp
	s.ResponsesReceived++
	s.UpdatedAt = r.CreatedAt
	return nil
}

func (m *MemoryStore) ListResponses(ctx context.Context, surveyID string) ([]*models.AttendanceResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.AttendanceResponse, 0, len(m.responses[surveyID]))
	for _, r := range m.responses[surveyID] {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResponderID < out[j].ResponderID })
	return out, nil
}

func (m *MemoryStore) CountCompletions(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.completions {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListCompletionsForRide(ctx context.Context, rideID string) ([]*models.RideCompletion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.RideCompletion, 0)
	for _, c := range m.completions {
		if c.RideID == rideID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) InsertRating(ctx context.Context, r *models.UserRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.ratings = append(m.ratings, &cp)
	return nil
}

func (m *MemoryStore) ListRatingsFor(ctx context.Context, userID string) ([]*models.UserRating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.UserRating, 0)
	for _, r := range m.ratings {
		if r.RatedID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, rideID string) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[rideID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpsertMeetingVote(ctx context.Context, v *models.MeetingPointVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byVoter, ok := m.meetingVotes[v.RideID]
	if !ok {
		byVoter = make(map[string]*models.MeetingPointVote)
		m.meetingVotes[v.RideID] = byVoter
	}
	cp := *v
	byVoter[v.VoterID] = &cp
	return nil
}

func (m *MemoryStore) ListMeetingVotes(ctx context.Context, rideID string) ([]*models.MeetingPointVote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.MeetingPointVote, 0, len(m.meetingVotes[rideID]))
	for _, v := range m.meetingVotes[rideID] {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoterID < out[j].VoterID })
	return out, nil
}
