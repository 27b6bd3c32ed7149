package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-consensus/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) ListRidesAwaitingSurvey(ctx context.Context, endedBefore time.Time) ([]*models.RideGroup, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.event_id, r.event_time, r.travel_mode, r.capacity, r.min_capacity, r.creator_id, r.created_at
		FROM ride_groups r
		LEFT JOIN attendance_surveys s ON s.ride_id = r.id
		WHERE r.event_time < $1 AND s.id IS NULL
		ORDER BY r.event_time`, endedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RideGroup
	for rows.Next() {
		r := &models.RideGroup{}
		if err := rows.Scan(&r.ID, &r.EventID, &r.EventTime, &r.TravelMode, &r.Capacity, &r.MinCapacity, &r.CreatorID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListJoinedMembers(ctx context.Context, rideID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_id FROM memberships WHERE ride_id=$1 AND status='joined' ORDER BY user_id`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *PostgresStore) IsJoinedMember(ctx context.Context, rideID, userID string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM memberships WHERE ride_id=$1 AND user_id=$2 AND status='joined'`, rideID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (p *PostgresStore) CountJoinedRides(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE user_id=$1 AND status='joined'`, userID).Scan(&n)
	return n, err
}

func (p *PostgresStore) CreateSurvey(ctx context.Context, s *models.AttendanceSurvey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_surveys(id, ride_id, status, total_members, responses_received, consensus_processed, sent_at, deadline, updated_at)
		VALUES($1,$2,$3,$4,0,false,$5,$6,$7)`,
		s.ID, s.RideID, s.Status, s.TotalMembers, s.SentAt, s.Deadline, s.UpdatedAt)
	if isUniqueViolation(err) {
		return models.ErrSurveyExists
	}
	return err
}

func (p *PostgresStore) GetSurvey(ctx context.Context, surveyID string) (*models.AttendanceSurvey, error) {
	s := &models.AttendanceSurvey{}
	var reminder sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, ride_id, status, total_members, responses_received, consensus_processed, sent_at, deadline, reminder_sent_at, updated_at
		FROM attendance_surveys WHERE id=$1`, surveyID).
		Scan(&s.ID, &s.RideID, &s.Status, &s.TotalMembers, &s.ResponsesReceived, &s.ConsensusProcessed, &s.SentAt, &s.Deadline, &reminder, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSurveyNotFound
	}
	if err != nil {
		return nil, err
	}
	if reminder.Valid {
		s.ReminderSentAt = &reminder.Time
	}
	return s, nil
}

func (p *PostgresStore) ListSurveysNeedingReminder(ctx context.Context, sentBefore time.Time) ([]*models.AttendanceSurvey, error) {
	return p.listSurveys(ctx, `
		SELECT id, ride_id, status, total_members, responses_received, consensus_processed, sent_at, deadline, reminder_sent_at, updated_at
		FROM attendance_surveys
		WHERE status='in_progress' AND reminder_sent_at IS NULL AND sent_at < $1
		ORDER BY sent_at`, sentBefore)
}

func (p *PostgresStore) ListSurveysPastDeadline(ctx context.Context, now time.Time) ([]*models.AttendanceSurvey, error) {
	return p.listSurveys(ctx, `
		SELECT id, ride_id, status, total_members, responses_received, consensus_processed, sent_at, deadline, reminder_sent_at, updated_at
		FROM attendance_surveys
		WHERE status='in_progress' AND consensus_processed=false AND deadline < $1
		ORDER BY deadline`, now)
}

func (p *PostgresStore) listSurveys(ctx context.Context, query string, arg any) ([]*models.AttendanceSurvey, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AttendanceSurvey
	for rows.Next() {
		s := &models.AttendanceSurvey{}
		var reminder sql.NullTime
		if err := rows.Scan(&s.ID, &s.RideID, &s.Status, &s.TotalMembers, &s.ResponsesReceived, &s.ConsensusProcessed, &s.SentAt, &s.Deadline, &reminder, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if reminder.Valid {
			s.ReminderSentAt = &reminder.Time
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkReminderSent(ctx context.Context, surveyID string, at time.Time) error {
	return p.touchSurvey(ctx,
		`UPDATE attendance_surveys SET reminder_sent_at=$2, updated_at=$2 WHERE id=$1`, surveyID, at)
}

func (p *PostgresStore) MarkExpired(ctx context.Context, surveyID string, at time.Time) error {
	return p.touchSurvey(ctx,
		`UPDATE attendance_surveys SET status='expired', updated_at=$2 WHERE id=$1 AND status='in_progress'`, surveyID, at)
}

func (p *PostgresStore) touchSurvey(ctx context.Context, query, surveyID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, query, surveyID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := p.GetSurvey(ctx, surveyID); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) FinalizeConsensus(ctx context.Context, surveyID string, completions []*models.RideCompletion, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Conditional update is the CAS barrier: a concurrent resolver for
	// the same survey loses here and never reaches the inserts.
	res, err := tx.ExecContext(ctx, `
		UPDATE attendance_surveys
		SET status='completed', consensus_processed=true, updated_at=$2
		WHERE id=$1 AND consensus_processed=false`, surveyID, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.GetSurvey(ctx, surveyID); err != nil {
			return err
		}
		return models.ErrAlreadyProcessed
	}
	for _, c := range completions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ride_completions(ride_id, user_id, votes, total_voters, confirmed_at)
			VALUES($1,$2,$3,$4,$5)`,
			c.RideID, c.UserID, c.Votes, c.TotalVoters, c.ConfirmedAt); err != nil {
			return fmt.Errorf("insert completion for user %s: %w", c.UserID, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) InsertResponse(ctx context.Context, r *models.AttendanceResponse) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance_responses(survey_id, responder_id, attended_user_ids, created_at)
		VALUES($1,$2,$3,$4)`,
		r.SurveyID, r.ResponderID, pq.Array(r.AttendedUserIDs), r.CreatedAt)
	if isUniqueViolation(err) {
		return models.ErrDuplicateResponse
	}
	if err != nil {
		return err
	}
	// Atomic add; read-modify-write would lose updates under concurrent
	// submissions.
	res, err := tx.ExecContext(ctx, `
		UPDATE attendance_surveys SET responses_received = responses_received + 1, updated_at=$2
		WHERE id=$1`, r.SurveyID, r.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrSurveyNotFound
	}
	return tx.Commit()
}

func (p *PostgresStore) ListResponses(ctx context.Context, surveyID string) ([]*models.AttendanceResponse, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT survey_id, responder_id, attended_user_ids, created_at
		FROM attendance_responses WHERE survey_id=$1 ORDER BY responder_id`, surveyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AttendanceResponse
	for rows.Next() {
		r := &models.AttendanceResponse{}
		if err := rows.Scan(&r.SurveyID, &r.ResponderID, pq.Array(&r.AttendedUserIDs), &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountCompletions(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ride_completions WHERE user_id=$1`, userID).Scan(&n)
	return n, err
}

func (p *PostgresStore) ListCompletionsForRide(ctx context.Context, rideID string) ([]*models.RideCompletion, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ride_id, user_id, votes, total_voters, confirmed_at
		FROM ride_completions WHERE ride_id=$1 ORDER BY user_id`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.RideCompletion
	for rows.Next() {
		c := &models.RideCompletion{}
		if err := rows.Scan(&c.RideID, &c.UserID, &c.Votes, &c.TotalVoters, &c.ConfirmedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) InsertRating(ctx context.Context, r *models.UserRating) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO user_ratings(rater_id, rated_id, ride_id, rating, comment, created_at)
		VALUES($1,$2,$3,$4,$5,$6)`,
		r.RaterID, r.RatedID, r.RideID, r.Rating, r.Comment, r.CreatedAt)
	return err
}

func (p *PostgresStore) ListRatingsFor(ctx context.Context, userID string) ([]*models.UserRating, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT rater_id, rated_id, ride_id, rating, comment, created_at
		FROM user_ratings WHERE rated_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.UserRating
	for rows.Next() {
		r := &models.UserRating{}
		if err := rows.Scan(&r.RaterID, &r.RatedID, &r.RideID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetPayment(ctx context.Context, rideID string) (*models.Payment, error) {
	pm := &models.Payment{}
	err := p.db.QueryRowContext(ctx, `
		SELECT ride_id, payer_id, amount, note FROM payments WHERE ride_id=$1`, rideID).
		Scan(&pm.RideID, &pm.PayerID, &pm.Amount, &pm.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pm, nil
}

func (p *PostgresStore) UpsertMeetingVote(ctx context.Context, v *models.MeetingPointVote) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO meeting_point_votes(ride_id, voter_id, option, cast_at)
		VALUES($1,$2,$3,$4)
		ON CONFLICT (ride_id, voter_id) DO UPDATE SET option=EXCLUDED.option, cast_at=EXCLUDED.cast_at`,
		v.RideID, v.VoterID, v.Option, v.CastAt)
	return err
}

func (p *PostgresStore) ListMeetingVotes(ctx context.Context, rideID string) ([]*models.MeetingPointVote, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ride_id, voter_id, option, cast_at
		FROM meeting_point_votes WHERE ride_id=$1 ORDER BY voter_id`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.MeetingPointVote
	for rows.Next() {
		v := &models.MeetingPointVote{}
		if err := rows.Scan(&v.RideID, &v.VoterID, &v.Option, &v.CastAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
