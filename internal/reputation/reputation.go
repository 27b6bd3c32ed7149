package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/example/ride-consensus/internal/storage"
)

// Result is a user's reputation at read time. Unrated means there is
// no comparable score: either no confirmed rides, or confirmed rides
// but no star ratings yet. The latter is deliberately not reported as
// 0.0 stars, which would look like a terrible rating.
type Result struct {
	Unrated        bool    `json:"unrated,omitempty"`
	Score          float64 `json:"score"`
	CompletedRides int     `json:"completed_rides"`
	RidesJoined    int     `json:"rides_joined"`
	CompletionPct  float64 `json:"completion_pct"`
	AvgStars       float64 `json:"avg_stars"`
}

// Service computes reputation as a pure function of current rows:
// average peer stars weighted by the confirmed-attendance rate. Safe
// to recompute on every read; the optional cache only needs
// invalidation-on-write.
type Service struct {
	Store  storage.Store
	Cache  *Cache
	Logger *slog.Logger
}

func (s *Service) Score(ctx context.Context, userID string) (Result, error) {
	if s.Cache != nil {
		if res, ok := s.Cache.Get(ctx, userID); ok {
			return res, nil
		}
	}

	completed, err := s.Store.CountCompletions(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("count completions for %s: %w", userID, err)
	}
	if completed == 0 {
		// No confirmed attendance means no comparable score, no matter
		// how many stars the user has collected.
		return Result{Unrated: true}, nil
	}

	joined, err := s.Store.CountJoinedRides(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("count joined rides for %s: %w", userID, err)
	}
	if joined < completed {
		// completions only exist for joined members; a smaller joined
		// count means the membership rows are damaged
		return Result{}, fmt.Errorf("user %s has %d completions but only %d joined rides", userID, completed, joined)
	}

	ratings, err := s.Store.ListRatingsFor(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("list ratings for %s: %w", userID, err)
	}
	if len(ratings) == 0 {
		return Result{Unrated: true, CompletedRides: completed, RidesJoined: joined}, nil
	}

	sum := 0
	for _, r := range ratings {
		sum += r.Rating
	}
	avg := float64(sum) / float64(len(ratings))
	pct := float64(completed) / float64(joined) * 100

	res := Result{
		Score:          round1(avg * pct / 100),
		CompletedRides: completed,
		RidesJoined:    joined,
		CompletionPct:  pct,
		AvgStars:       avg,
	}
	if s.Cache != nil {
		s.Cache.Set(ctx, userID, res)
	}
	return res, nil
}

// Invalidate drops the cached score after a completion or rating
// write. Implements consensus.ScoreInvalidator.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	if s.Cache != nil {
		s.Cache.Del(ctx, userID)
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
