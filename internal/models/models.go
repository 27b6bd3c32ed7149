package models

import "time"

type TravelMode string

const (
	ModeRideshare TravelMode = "rideshare"
	ModeCarpool   TravelMode = "carpool"
)

type MemberStatus string

const (
	MemberJoined  MemberStatus = "joined"
	MemberInvited MemberStatus = "invited"
)

type MemberRole string

const (
	RoleDriver MemberRole = "driver"
	RoleRider  MemberRole = "rider"
)

type SurveyStatus string

const (
	SurveyInProgress SurveyStatus = "in_progress"
	SurveyCompleted  SurveyStatus = "completed"
	SurveyExpired    SurveyStatus = "expired"
)

// RideGroup is one departure instance of a shared ride for an event.
type RideGroup struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	EventTime   time.Time  `json:"event_time"`
	TravelMode  TravelMode `json:"travel_mode"`
	Capacity    int        `json:"capacity"`
	MinCapacity int        `json:"min_capacity"`
	CreatorID   string     `json:"creator_id"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Membership ties a user to a ride. The consensus core only reads these
// rows; joins and invites are owned by the membership layer.
type Membership struct {
	RideID   string       `json:"ride_id"`
	UserID   string       `json:"user_id"`
	Status   MemberStatus `json:"status"`
	Role     MemberRole   `json:"role,omitempty"`
	JoinedAt time.Time    `json:"joined_at"`
}

// AttendanceSurvey is one attendance-confirmation round for one ride.
// TotalMembers is frozen at creation time; later membership changes do
// not alter it.
type AttendanceSurvey struct {
	ID                 string       `json:"id"`
	RideID             string       `json:"ride_id"`
	Status             SurveyStatus `json:"status"`
	TotalMembers       int          `json:"total_members"`
	ResponsesReceived  int          `json:"responses_received"`
	ConsensusProcessed bool         `json:"consensus_processed"`
	SentAt             time.Time    `json:"sent_at"`
	Deadline           time.Time    `json:"deadline"`
	ReminderSentAt     *time.Time   `json:"reminder_sent_at,omitempty"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// AttendanceResponse is one member's report of who was present on the
// ride. One row per (survey, responder); first write wins.
type AttendanceResponse struct {
	SurveyID        string    `json:"survey_id"`
	ResponderID     string    `json:"responder_id"`
	AttendedUserIDs []string  `json:"attended_user_ids"`
	CreatedAt       time.Time `json:"created_at"`
}

// Includes reports whether the responder claimed userID was present.
func (r *AttendanceResponse) Includes(userID string) bool {
	for _, id := range r.AttendedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// RideCompletion is the permanent ledger entry for a confirmed
// attendance. Never mutated or deleted once written.
type RideCompletion struct {
	RideID      string    `json:"ride_id"`
	UserID      string    `json:"user_id"`
	Votes       int       `json:"votes"`
	TotalVoters int       `json:"total_voters"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// UserRating is a single peer star rating. A rater may rate the same
// user more than once across rides; every row counts as one data point.
type UserRating struct {
	RaterID   string    `json:"rater_id"`
	RatedID   string    `json:"rated_id"`
	RideID    string    `json:"ride_id"`
	Rating    int       `json:"rating"` // 1..5
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Payment is an existing cost-split record for a ride. The core only
// reads it to compute per-member shares after consensus.
type Payment struct {
	RideID  string  `json:"ride_id"`
	PayerID string  `json:"payer_id"`
	Amount  float64 `json:"amount"`
	Note    string  `json:"note,omitempty"`
}

// MeetingPointVote is a member's current pick for where the group
// meets. Unlike attendance reports these are editable until departure.
type MeetingPointVote struct {
	RideID  string    `json:"ride_id"`
	VoterID string    `json:"voter_id"`
	Option  string    `json:"option"`
	CastAt  time.Time `json:"cast_at"`
}

type NotificationKind string

const (
	NotifySurveyCreated  NotificationKind = "survey_created"
	NotifySurveyReminder NotificationKind = "survey_reminder"
	NotifyPaymentShare   NotificationKind = "payment_share"
)

// Notification is the payload handed to the dispatch sinks. Delivery is
// best-effort everywhere; the core never blocks on it.
type Notification struct {
	ID       string           `json:"id"`
	UserID   string           `json:"user_id"`
	Kind     NotificationKind `json:"kind"`
	RideID   string           `json:"ride_id,omitempty"`
	SurveyID string           `json:"survey_id,omitempty"`
	Amount   float64          `json:"amount,omitempty"`
	Message  string           `json:"message,omitempty"`
	SentAt   time.Time        `json:"sent_at"`
}
