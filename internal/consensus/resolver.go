package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-consensus/internal/dispatch"
	"github.com/example/ride-consensus/internal/models"
	"github.com/example/ride-consensus/internal/observability"
	"github.com/example/ride-consensus/internal/storage"
)

// Result summarizes one consensus resolution.
type Result struct {
	SurveyID       string `json:"survey_id"`
	Completions    int    `json:"completions"`
	TotalResponses int    `json:"total_responses"`
	TotalMembers   int    `json:"total_members"`
	AlreadyDone    bool   `json:"already_processed,omitempty"`
}

// Verdict is the per-member outcome of a tally.
type Verdict struct {
	UserID    string
	Votes     int
	Confirmed bool
}

// ScoreInvalidator drops cached reputation entries after the
// completion ledger grows. A nil invalidator is fine.
type ScoreInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Resolver converts collected attendance reports into the permanent
// completion ledger. Resolve is idempotent: the store's
// compare-and-set guard makes a second call for the same survey a
// benign no-op.
type Resolver struct {
	Store    storage.Store
	Notifier dispatch.Notifier
	Scores   ScoreInvalidator
	Logger   *slog.Logger

	now func() time.Time
}

func NewResolver(store storage.Store, notifier dispatch.Notifier, scores ScoreInvalidator, logger *slog.Logger) *Resolver {
	return &Resolver{Store: store, Notifier: notifier, Scores: scores, Logger: logger, now: time.Now}
}

// Tally computes verdicts for every eligible member. With R total
// responses, a member is confirmed on a strict majority; an exact
// 50/50 split falls back to the member's own report, and a member who
// never responded loses the tie. Zero responses confirms nobody.
func Tally(members []string, responses []*models.AttendanceResponse) []Verdict {
	r := len(responses)
	own := make(map[string]*models.AttendanceResponse, r)
	for _, resp := range responses {
		own[resp.ResponderID] = resp
	}

	verdicts := make([]Verdict, 0, len(members))
	for _, m := range members {
		votes := 0
		for _, resp := range responses {
			if resp.Includes(m) {
				votes++
			}
		}
		confirmed := false
		switch {
		case r == 0:
			// no evidence at all
		case 2*votes > r:
			confirmed = true
		case 2*votes == r:
			if self, ok := own[m]; ok {
				confirmed = self.Includes(m)
			}
		}
		verdicts = append(verdicts, Verdict{UserID: m, Votes: votes, Confirmed: confirmed})
	}
	return verdicts
}

// Resolve runs the consensus for one survey and writes the outcome.
// The status flip and completion inserts are one atomic unit in the
// store; payment-share notifications happen after the commit and are
// best-effort.
func (r *Resolver) Resolve(ctx context.Context, surveyID string) (Result, error) {
	start := r.clock()()

	sv, err := r.Store.GetSurvey(ctx, surveyID)
	if err != nil {
		return Result{}, err
	}
	if sv.ConsensusProcessed {
		return Result{SurveyID: surveyID, AlreadyDone: true}, nil
	}

	members, err := r.Store.ListJoinedMembers(ctx, sv.RideID)
	if err != nil {
		return Result{}, fmt.Errorf("list members for ride %s: %w", sv.RideID, err)
	}
	responses, err := r.Store.ListResponses(ctx, surveyID)
	if err != nil {
		return Result{}, fmt.Errorf("list responses for survey %s: %w", surveyID, err)
	}

	verdicts := Tally(members, responses)
	now := r.clock()()
	completions := make([]*models.RideCompletion, 0, len(verdicts))
	confirmed := make([]string, 0, len(verdicts))
	for _, v := range verdicts {
		if !v.Confirmed {
			continue
		}
		completions = append(completions, &models.RideCompletion{
			RideID:      sv.RideID,
			UserID:      v.UserID,
			Votes:       v.Votes,
			TotalVoters: len(responses),
			ConfirmedAt: now,
		})
		confirmed = append(confirmed, v.UserID)
	}

	if err := r.Store.FinalizeConsensus(ctx, surveyID, completions, now); err != nil {
		if errors.Is(err, models.ErrAlreadyProcessed) {
			return Result{SurveyID: surveyID, AlreadyDone: true}, nil
		}
		return Result{}, fmt.Errorf("finalize survey %s: %w", surveyID, err)
	}

	observability.ConsensusRuns.Inc()
	observability.CompletionsWritten.Add(float64(len(completions)))
	observability.ConsensusLatency.Observe(time.Since(start).Seconds())

	if r.Scores != nil {
		for _, userID := range confirmed {
			r.Scores.Invalidate(ctx, userID)
		}
	}

	r.notifyPaymentShares(ctx, sv.RideID, surveyID, confirmed)

	r.Logger.Info("consensus resolved",
		"survey_id", surveyID,
		"ride_id", sv.RideID,
		"completions", len(completions),
		"responses", len(responses),
		"members", len(members),
	)
	return Result{
		SurveyID:       surveyID,
		Completions:    len(completions),
		TotalResponses: len(responses),
		TotalMembers:   len(members),
	}, nil
}

// notifyPaymentShares tells every confirmed non-payer what they owe
// when a cost-split record exists. Failures are logged and dropped;
// the consensus write already committed.
func (r *Resolver) notifyPaymentShares(ctx context.Context, rideID, surveyID string, confirmed []string) {
	if r.Notifier == nil || len(confirmed) == 0 {
		return
	}
	payment, err := r.Store.GetPayment(ctx, rideID)
	if err != nil {
		r.Logger.Warn("payment lookup failed", "ride_id", rideID, "error", err)
		return
	}
	if payment == nil {
		return
	}
	share := payment.Amount / float64(len(confirmed))
	for _, userID := range confirmed {
		if userID == payment.PayerID {
			continue
		}
		n := models.Notification{
			ID:       uuid.NewString(),
			UserID:   userID,
			Kind:     models.NotifyPaymentShare,
			RideID:   rideID,
			SurveyID: surveyID,
			Amount:   share,
			Message:  fmt.Sprintf("your share of the ride cost is %.2f", share),
			SentAt:   r.clock()(),
		}
		if err := r.Notifier.Notify(ctx, n); err != nil {
			observability.NotificationsFailed.Inc()
			r.Logger.Warn("payment share notification failed", "ride_id", rideID, "user_id", userID, "error", err)
		}
	}
}

func (r *Resolver) clock() func() time.Time {
	if r.now != nil {
		return r.now
	}
	return time.Now
}
