package voting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/ride-consensus/internal/models"
	"github.com/example/ride-consensus/internal/storage"
)

// Tally is the meeting-point standing for one ride, recomputed on
// demand from current vote rows. Plurality, no quorum: Leading is the
// option with the most votes, ties broken by option name for a stable
// answer.
type Tally struct {
	RideID     string         `json:"ride_id"`
	Counts     map[string]int `json:"counts"`
	Leading    string         `json:"leading,omitempty"`
	TotalVotes int            `json:"total_votes"`
}

// Service handles meeting-point voting. This is the simpler sibling of
// the attendance consensus: votes are editable until departure and the
// tally is a derived read with no persistence of its own.
type Service struct {
	Store  storage.Store
	Logger *slog.Logger

	now func() time.Time
}

func (s *Service) clock() func() time.Time {
	if s.now != nil {
		return s.now
	}
	return time.Now
}

// CastVote records or replaces the member's pick.
func (s *Service) CastVote(ctx context.Context, rideID, voterID, option string) error {
	if option == "" {
		return fmt.Errorf("option is required")
	}
	joined, err := s.Store.IsJoinedMember(ctx, rideID, voterID)
	if err != nil {
		return fmt.Errorf("membership check for ride %s: %w", rideID, err)
	}
	if !joined {
		return models.ErrNotMember
	}
	return s.Store.UpsertMeetingVote(ctx, &models.MeetingPointVote{
		RideID:  rideID,
		VoterID: voterID,
		Option:  option,
		CastAt:  s.clock()(),
	})
}

// ComputeTally projects the current votes into counts and a leader.
func (s *Service) ComputeTally(ctx context.Context, rideID string) (Tally, error) {
	votes, err := s.Store.ListMeetingVotes(ctx, rideID)
	if err != nil {
		return Tally{}, fmt.Errorf("list meeting votes for ride %s: %w", rideID, err)
	}
	t := Tally{RideID: rideID, Counts: make(map[string]int), TotalVotes: len(votes)}
	for _, v := range votes {
		t.Counts[v.Option]++
	}
	options := make([]string, 0, len(t.Counts))
	for opt := range t.Counts {
		options = append(options, opt)
	}
	sort.Strings(options)
	best := 0
	for _, opt := range options {
		if t.Counts[opt] > best {
			best = t.Counts[opt]
			t.Leading = opt
		}
	}
	return t, nil
}
