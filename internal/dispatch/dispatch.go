package dispatch

import (
	"context"
	"log/slog"

	"github.com/example/ride-consensus/internal/models"
	"github.com/example/ride-consensus/internal/observability"
)

// Notifier is the best-effort side channel for survey and payment
// events. Callers never block on it and never propagate its errors; a
// failed send is counted and logged, nothing more.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// LogNotifier writes notifications to the structured log. It is the
// fallback sink when no Kafka brokers are configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(ctx context.Context, n models.Notification) error {
	observability.NotificationsPublished.Inc()
	l.Logger.Info("notification",
		"id", n.ID,
		"user_id", n.UserID,
		"kind", string(n.Kind),
		"ride_id", n.RideID,
		"survey_id", n.SurveyID,
	)
	return nil
}

// MultiNotifier fans out to every sink. A sink failure does not stop
// the others; the first error is returned so callers can count it.
type MultiNotifier struct {
	Sinks []Notifier
}

func (m *MultiNotifier) Notify(ctx context.Context, n models.Notification) error {
	var first error
	for _, s := range m.Sinks {
		if err := s.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
