package storage

import (
	"context"
	"time"

	"github.com/example/ride-consensus/internal/models"
)

// Store defines the persistence operations the consensus core needs.
// PostgresStore is the production implementation; MemoryStore backs
// tests and dependency-free local runs.
type Store interface {
	RideStore
	MembershipStore
	SurveyStore
	ResponseStore
	CompletionStore
	RatingStore
	PaymentStore
	MeetingVoteStore
}

type RideStore interface {
	// ListRidesAwaitingSurvey returns rides whose event time is older
	// than endedBefore and that have no attendance survey yet.
	ListRidesAwaitingSurvey(ctx context.Context, endedBefore time.Time) ([]*models.RideGroup, error)
}

// MembershipStore is read-only ground truth for who may vote and be
// voted on. Nothing in this module writes membership rows.
type MembershipStore interface {
	ListJoinedMembers(ctx context.Context, rideID string) ([]string, error)
	IsJoinedMember(ctx context.Context, rideID, userID string) (bool, error)
	CountJoinedRides(ctx context.Context, userID string) (int, error)
}

type SurveyStore interface {
	// CreateSurvey inserts a new survey. Returns ErrSurveyExists when the
	// ride already has one; creation is idempotent under concurrent sweeps.
	CreateSurvey(ctx context.Context, s *models.AttendanceSurvey) error
	GetSurvey(ctx context.Context, surveyID string) (*models.AttendanceSurvey, error)
	ListSurveysNeedingReminder(ctx context.Context, sentBefore time.Time) ([]*models.AttendanceSurvey, error)
	ListSurveysPastDeadline(ctx context.Context, now time.Time) ([]*models.AttendanceSurvey, error)
	MarkReminderSent(ctx context.Context, surveyID string, at time.Time) error
	MarkExpired(ctx context.Context, surveyID string, at time.Time) error

	// FinalizeConsensus flips consensus_processed false->true, sets the
	// survey status to completed and writes the completion ledger rows,
	// all as one atomic unit. The flip is a compare-and-set: a second
	// caller gets ErrAlreadyProcessed and no rows are written twice.
	FinalizeConsensus(ctx context.Context, surveyID string, completions []*models.RideCompletion, at time.Time) error
}

type ResponseStore interface {
	// InsertResponse writes the report and increments the survey's
	// responses_received counter in the same transaction. Returns
	// ErrDuplicateResponse if the responder already reported.
	InsertResponse(ctx context.Context, r *models.AttendanceResponse) error
	ListResponses(ctx context.Context, surveyID string) ([]*models.AttendanceResponse, error)
}

type CompletionStore interface {
	CountCompletions(ctx context.Context, userID string) (int, error)
	ListCompletionsForRide(ctx context.Context, rideID string) ([]*models.RideCompletion, error)
}

type RatingStore interface {
	InsertRating(ctx context.Context, r *models.UserRating) error
	ListRatingsFor(ctx context.Context, userID string) ([]*models.UserRating, error)
}

type PaymentStore interface {
	// GetPayment returns nil with no error when the ride has no
	// cost-split record.
	GetPayment(ctx context.Context, rideID string) (*models.Payment, error)
}

type MeetingVoteStore interface {
	// UpsertMeetingVote replaces the voter's previous pick; meeting-point
	// votes stay editable, unlike attendance reports.
	UpsertMeetingVote(ctx context.Context, v *models.MeetingPointVote) error
	ListMeetingVotes(ctx context.Context, rideID string) ([]*models.MeetingPointVote, error)
}
