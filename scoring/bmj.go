// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package scoring

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/danielhkuo/converge/models"
)

// tieTolerance is how close two stat keys must be to share the top spot
const tieTolerance = 0.001

// Candidate is a proposition eligible to win a round.
type Candidate struct {
	PropositionID string
	OriginID      string // set for carried-forward copies
	CreatedAt     time.Time
}

// Stats are the Balanced Majority Judgment aggregates for one proposition.
// Signed values are on [-1, 1].
type Stats struct {
	PropositionID string
	Median        float64
	P10           float64
	P90           float64
	Mean          float64
	NegShare      float64
	Veto          bool
	Ratings       int
	GlobalScore   float64 // mean rating on the 0..100 scale
}

// ComputeStats aggregates scores (0..100) per proposition. Candidates with
// no ratings get zero stats.
func ComputeStats(candidates []Candidate, scores map[string][]int) []Stats {
	stats := make([]Stats, 0, len(candidates))
	for _, c := range candidates {
		raw := scores[c.PropositionID]
		if len(raw) == 0 {
			stats = append(stats, Stats{PropositionID: c.PropositionID})
			continue
		}

		// s = 2*(score/100) - 1
		signed := make([]float64, len(raw))
		total := 0
		for i, v := range raw {
			signed[i] = 2.0*float64(v)/100.0 - 1.0
			total += v
		}
		sort.Float64s(signed)

		s := Stats{
			PropositionID: c.PropositionID,
			Median:        percentile(signed, 0.5),
			P10:           percentile(signed, 0.1),
			P90:           percentile(signed, 0.9),
			Mean:          mean(signed),
			NegShare:      negativeShare(signed),
			Ratings:       len(raw),
			GlobalScore:   float64(total) / float64(len(raw)),
		}
		// Soft veto
		s.Veto = s.NegShare >= 0.33 && s.Median <= 0
		stats = append(stats, s)
	}
	return stats
}

// Rank sorts stats best first: non-vetoed, then median, p10, p90, mean,
// then proposition id.
func Rank(stats []Stats) {
	sort.SliceStable(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.Veto != b.Veto {
			return !a.Veto
		}
		if a.Median != b.Median {
			return a.Median > b.Median
		}
		if a.P10 != b.P10 {
			return a.P10 > b.P10
		}
		if a.P90 != b.P90 {
			return a.P90 > b.P90
		}
		if a.Mean != b.Mean {
			return a.Mean > b.Mean
		}
		return a.PropositionID < b.PropositionID
	})
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= tieTolerance
}

func tied(a, b Stats) bool {
	return a.Veto == b.Veto &&
		near(a.Median, b.Median) &&
		near(a.P10, b.P10) &&
		near(a.P90, b.P90) &&
		near(a.Mean, b.Mean)
}

// Winners picks the top group of a round. candidates must be ordered oldest
// first. With no ratings at all the oldest proposition wins outright; with
// no candidates there is no winner.
func Winners(roundID string, candidates []Candidate, scores map[string][]int) []models.RoundWinner {
	if len(candidates) == 0 {
		return []models.RoundWinner{}
	}

	rated := 0
	for _, c := range candidates {
		rated += len(scores[c.PropositionID])
	}
	if rated == 0 {
		return []models.RoundWinner{{
			RoundID:       roundID,
			PropositionID: candidates[0].PropositionID,
			OriginID:      candidates[0].OriginID,
			IsSoleWinner:  true,
		}}
	}

	origins := make(map[string]string, len(candidates))
	for _, c := range candidates {
		origins[c.PropositionID] = c.OriginID
	}

	stats := ComputeStats(candidates, scores)
	Rank(stats)

	top := []Stats{stats[0]}
	for _, s := range stats[1:] {
		if !tied(stats[0], s) {
			break
		}
		top = append(top, s)
	}

	winners := make([]models.RoundWinner, len(top))
	for i, s := range top {
		winners[i] = models.RoundWinner{
			RoundID:       roundID,
			PropositionID: s.PropositionID,
			OriginID:      origins[s.PropositionID],
			GlobalScore:   s.GlobalScore,
			IsSoleWinner:  len(top) == 1,
		}
	}
	return winners
}

// BMJScorer scores rounds from the rating table.
type BMJScorer struct {
	db *sql.DB
}

func NewBMJScorer(db *sql.DB) *BMJScorer {
	return &BMJScorer{db: db}
}

// ScoreRound returns the round's winners. Winners already recorded for the
// round are returned as stored, so repeated calls agree. The scorer never
// writes; the round completion persists what it returns.
func (s *BMJScorer) ScoreRound(ctx context.Context, roundID string) ([]models.RoundWinner, error) {
	stored, err := s.storedWinners(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stored winners: %w", err)
	}
	if len(stored) > 0 {
		return stored, nil
	}

	candidates, err := s.candidates(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get propositions: %w", err)
	}

	scores, err := s.scores(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ratings: %w", err)
	}

	return Winners(roundID, candidates, scores), nil
}

func (s *BMJScorer) storedWinners(ctx context.Context, roundID string) ([]models.RoundWinner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.round_id, w.proposition_id, COALESCE(p.carried_from_id, ''), w.global_score, w.is_sole_winner
		FROM round_winner w
		JOIN proposition p ON w.proposition_id = p.id
		WHERE w.round_id = $1
		ORDER BY w.proposition_id
	`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var winners []models.RoundWinner
	for rows.Next() {
		var w models.RoundWinner
		if err := rows.Scan(&w.RoundID, &w.PropositionID, &w.OriginID, &w.GlobalScore, &w.IsSoleWinner); err != nil {
			return nil, err
		}
		winners = append(winners, w)
	}
	return winners, rows.Err()
}

func (s *BMJScorer) candidates(ctx context.Context, roundID string) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(carried_from_id, ''), created_at FROM proposition
		WHERE round_id = $1
		ORDER BY created_at, id
	`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.PropositionID, &c.OriginID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// scores only counts ratings from participants who are still active
func (s *BMJScorer) scores(ctx context.Context, roundID string) (map[string][]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.proposition_id, r.score
		FROM rating r
		JOIN participant p ON r.participant_id = p.id
		WHERE r.round_id = $1 AND p.status = $2
		ORDER BY r.proposition_id
	`, roundID, models.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string][]int)
	for rows.Next() {
		var propositionID string
		var score int
		if err := rows.Scan(&propositionID, &score); err != nil {
			return nil, err
		}
		scores[propositionID] = append(scores[propositionID], score)
	}
	return scores, rows.Err()
}

// percentile interpolates linearly between the closest ranks of sorted data.
// p is in [0, 1].
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0.0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p * float64(len(sorted)-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// negativeShare is the fraction of signed scores below zero
func negativeShare(signed []float64) float64 {
	if len(signed) == 0 {
		return 0.0
	}
	neg := 0
	for _, s := range signed {
		if s < 0 {
			neg++
		}
	}
	return float64(neg) / float64(len(signed))
}
