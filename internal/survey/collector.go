package survey

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-consensus/internal/models"
	"github.com/example/ride-consensus/internal/observability"
	"github.com/example/ride-consensus/internal/storage"
)

// Collector accepts attendance reports. One report per (survey,
// responder); the first write wins and later submissions are rejected.
type Collector struct {
	Store  storage.Store
	Logger *slog.Logger

	now func() time.Time
}

func (c *Collector) clock() func() time.Time {
	if c.now != nil {
		return c.now
	}
	return time.Now
}

// SubmitReport records who the responder says was on the ride. The
// attended set may be any subset of the membership, including or
// excluding the responder. The insert and the responses_received
// increment commit together. Submission never triggers resolution;
// that stays deadline driven.
func (c *Collector) SubmitReport(ctx context.Context, surveyID, responderID string, attendedUserIDs []string) error {
	sv, err := c.Store.GetSurvey(ctx, surveyID)
	if err != nil {
		observability.ResponsesRejected.WithLabelValues("not_found").Inc()
		return err
	}
	if sv.Status != models.SurveyInProgress {
		observability.ResponsesRejected.WithLabelValues("closed").Inc()
		return models.ErrSurveyClosed
	}
	joined, err := c.Store.IsJoinedMember(ctx, sv.RideID, responderID)
	if err != nil {
		return fmt.Errorf("membership check for ride %s: %w", sv.RideID, err)
	}
	if !joined {
		observability.ResponsesRejected.WithLabelValues("not_member").Inc()
		return models.ErrNotMember
	}

	err = c.Store.InsertResponse(ctx, &models.AttendanceResponse{
		SurveyID:        surveyID,
		ResponderID:     responderID,
		AttendedUserIDs: attendedUserIDs,
		CreatedAt:       c.clock()(),
	})
	if err != nil {
		if err == models.ErrDuplicateResponse {
			observability.ResponsesRejected.WithLabelValues("duplicate").Inc()
		}
		return err
	}
	observability.ResponsesAccepted.Inc()
	c.Logger.Info("attendance report accepted",
		"survey_id", surveyID,
		"responder_id", responderID,
		"claimed", len(attendedUserIDs),
	)
	return nil
}
