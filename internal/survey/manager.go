package survey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-consensus/internal/consensus"
	"github.com/example/ride-consensus/internal/dispatch"
	"github.com/example/ride-consensus/internal/models"
	"github.com/example/ride-consensus/internal/observability"
	"github.com/example/ride-consensus/internal/storage"
)

// SweepReport summarizes one scheduler pass.
type SweepReport struct {
	Created  int `json:"created"`
	Reminded int `json:"reminded"`
	Expired  int `json:"expired"`
	Errors   int `json:"errors"`
}

// Manager owns the survey lifecycle: opening surveys for rides whose
// event time has passed, sending one reminder round to non-responders,
// and expiring surveys past deadline into consensus resolution. Every
// step isolates per-ride failures; one bad ride never aborts the sweep.
type Manager struct {
	Store    storage.Store
	Notifier dispatch.Notifier
	Resolver *consensus.Resolver
	Logger   *slog.Logger

	// GraceOffset is how long after the event a ride becomes survey
	// eligible. Deliberately configurable, see config.ServerConfig.
	GraceOffset    time.Duration
	DeadlineWindow time.Duration
	ReminderAfter  time.Duration

	now func() time.Time
}

func (m *Manager) clock() func() time.Time {
	if m.now != nil {
		return m.now
	}
	return time.Now
}

// Sweep runs all three lifecycle passes. It is stateless and
// idempotent; overlapping invocations are safe because creation is
// guarded by a uniqueness constraint and resolution by the store CAS.
func (m *Manager) Sweep(ctx context.Context) SweepReport {
	var rep SweepReport
	m.createSurveys(ctx, &rep)
	m.sendReminders(ctx, &rep)
	m.expireSurveys(ctx, &rep)
	return rep
}

func (m *Manager) createSurveys(ctx context.Context, rep *SweepReport) {
	now := m.clock()()
	rides, err := m.Store.ListRidesAwaitingSurvey(ctx, now.Add(-m.GraceOffset))
	if err != nil {
		m.Logger.Error("list rides awaiting survey failed", "error", err)
		rep.Errors++
		return
	}
	for _, ride := range rides {
		if err := m.openSurvey(ctx, ride); err != nil {
			observability.SweepItemErrors.Inc()
			rep.Errors++
			m.Logger.Error("survey creation failed", "ride_id", ride.ID, "error", err)
			continue
		}
		rep.Created++
	}
}

func (m *Manager) openSurvey(ctx context.Context, ride *models.RideGroup) error {
	members, err := m.Store.ListJoinedMembers(ctx, ride.ID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	now := m.clock()()
	sv := &models.AttendanceSurvey{
		ID:           uuid.NewString(),
		RideID:       ride.ID,
		Status:       models.SurveyInProgress,
		TotalMembers: len(members),
		SentAt:       now,
		Deadline:     ride.EventTime.Add(m.DeadlineWindow),
		UpdatedAt:    now,
	}
	if err := m.Store.CreateSurvey(ctx, sv); err != nil {
		if err == models.ErrSurveyExists {
			// lost a race with a concurrent sweep; nothing to do
			return nil
		}
		return err
	}
	observability.SurveysCreated.Inc()
	m.notifyMembers(ctx, members, models.Notification{
		Kind:     models.NotifySurveyCreated,
		RideID:   ride.ID,
		SurveyID: sv.ID,
		Message:  "confirm who attended your ride",
	})
	return nil
}

func (m *Manager) sendReminders(ctx context.Context, rep *SweepReport) {
	now := m.clock()()
	surveys, err := m.Store.ListSurveysNeedingReminder(ctx, now.Add(-m.ReminderAfter))
	if err != nil {
		m.Logger.Error("list surveys needing reminder failed", "error", err)
		rep.Errors++
		return
	}
	for _, sv := range surveys {
		if err := m.remind(ctx, sv); err != nil {
			observability.SweepItemErrors.Inc()
			rep.Errors++
			m.Logger.Error("reminder failed", "survey_id", sv.ID, "ride_id", sv.RideID, "error", err)
			continue
		}
		rep.Reminded++
	}
}

func (m *Manager) remind(ctx context.Context, sv *models.AttendanceSurvey) error {
	members, err := m.Store.ListJoinedMembers(ctx, sv.RideID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	responses, err := m.Store.ListResponses(ctx, sv.ID)
	if err != nil {
		return fmt.Errorf("list responses: %w", err)
	}
	responded := make(map[string]bool, len(responses))
	for _, r := range responses {
		responded[r.ResponderID] = true
	}
	pending := make([]string, 0, len(members))
	for _, userID := range members {
		if !responded[userID] {
			pending = append(pending, userID)
		}
	}
	// Stamp first so a notify crash cannot cause a second reminder
	// round; the reminder is itself best-effort.
	if err := m.Store.MarkReminderSent(ctx, sv.ID, m.clock()()); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	m.notifyMembers(ctx, pending, models.Notification{
		Kind:     models.NotifySurveyReminder,
		RideID:   sv.RideID,
		SurveyID: sv.ID,
		Message:  "your ride attendance survey closes soon",
	})
	observability.RemindersSent.Inc()
	return nil
}

func (m *Manager) expireSurveys(ctx context.Context, rep *SweepReport) {
	now := m.clock()()
	surveys, err := m.Store.ListSurveysPastDeadline(ctx, now)
	if err != nil {
		m.Logger.Error("list surveys past deadline failed", "error", err)
		rep.Errors++
		return
	}
	for _, sv := range surveys {
		if err := m.expire(ctx, sv); err != nil {
			observability.SweepItemErrors.Inc()
			rep.Errors++
			m.Logger.Error("expiry failed", "survey_id", sv.ID, "ride_id", sv.RideID, "error", err)
			continue
		}
		rep.Expired++
	}
}

func (m *Manager) expire(ctx context.Context, sv *models.AttendanceSurvey) error {
	if err := m.Store.MarkExpired(ctx, sv.ID, m.clock()()); err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	observability.SurveysExpired.Inc()
	if _, err := m.Resolver.Resolve(ctx, sv.ID); err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	return nil
}

func (m *Manager) notifyMembers(ctx context.Context, userIDs []string, template models.Notification) {
	if m.Notifier == nil {
		return
	}
	for _, userID := range userIDs {
		n := template
		n.ID = uuid.NewString()
		n.UserID = userID
		n.SentAt = m.clock()()
		if err := m.Notifier.Notify(ctx, n); err != nil {
			observability.NotificationsFailed.Inc()
			m.Logger.Warn("notification dispatch failed", "user_id", userID, "kind", string(n.Kind), "error", err)
		}
	}
}
