// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/danielhkuo/converge/consensus"
	"github.com/danielhkuo/converge/models"
)

var (
	// ErrStaleTransition is returned by a Store when a conditional write
	// matched no rows because another execution already moved the round.
	ErrStaleTransition = errors.New("round changed since it was read")

	// ErrInvariant marks state that should be impossible, such as two open
	// rounds in one cycle.
	ErrInvariant = errors.New("scheduler invariant violated")

	// ErrNotWaiting is returned by Start when the chat's current round is
	// not held in the waiting phase.
	ErrNotWaiting = errors.New("round is not waiting")

	// ErrNoOpenRound is returned by Start when the chat has no open round.
	ErrNoOpenRound = errors.New("chat has no open round")
)

// ProposingStats counts proposing activity in a round. Carried-forward
// propositions are excluded from every field.
type ProposingStats struct {
	Submitters      int // distinct active participants with a new proposition
	NewPropositions int
	Skips           int // active participants who skipped
}

// RatingStats counts rating activity in a round.
type RatingStats struct {
	Propositions int
	Raters       int // distinct active participants with at least one rating
	Ratings      int
}

// AverageRatings is the mean number of ratings per proposition, rounded down.
func (s RatingStats) AverageRatings() int {
	if s.Propositions == 0 {
		return 0
	}
	return s.Ratings / s.Propositions
}

// Snapshot is everything Tick reads about one chat.
// Cycle and Round are nil when the chat has nothing open.
type Snapshot struct {
	Chat               models.Chat
	Cycle              *models.Cycle
	Round              *models.Round
	ActiveParticipants int
	Proposing          ProposingStats
	Rating             RatingStats
}

// Transition moves a round from one phase to another. It succeeds only if
// the round is still in From and not completed.
type Transition struct {
	RoundID        string
	From           models.Phase
	To             models.Phase
	PhaseStartedAt time.Time
	PhaseEndsAt    *time.Time // nil clears the deadline

	// Set only when leaving proposing
	ProposingEndedAt    *time.Time
	ProposingEndedEarly *bool
}

// Extension pushes a phase deadline forward. It succeeds only if the round
// is still in Phase with deadline PreviousEndsAt.
type Extension struct {
	RoundID        string
	Phase          models.Phase
	PreviousEndsAt time.Time
	NewEndsAt      time.Time
}

// NextRound describes the round created when a round completes without
// reaching consensus.
type NextRound struct {
	SequenceNumber           int
	Phase                    models.Phase
	PhaseStartedAt           time.Time
	PhaseEndsAt              *time.Time
	ProposingDurationSeconds int
	RatingDurationSeconds    int
}

// Completion finishes a rating round. Exactly one of CycleWinnerID and
// NextRound is set. A Store must apply it as a single atomic write:
// winners, the round's completion, and either the cycle's completion or the
// next round (with the winners carried into it).
type Completion struct {
	ChatID           string
	CycleID          string
	RoundID          string
	CompletedAt      time.Time
	RatingEndedEarly bool
	Winners          []models.RoundWinner
	CycleWinnerID    *string
	NextRound        *NextRound
}

// Store is the data-store boundary the engine reads snapshots from and
// writes conditional transitions to.
type Store interface {
	LoadSnapshot(ctx context.Context, chatID string) (*Snapshot, error)
	TransitionRound(ctx context.Context, t Transition) error
	ExtendDeadline(ctx context.Context, x Extension) error
	// CompletedRounds returns the cycle's completed rounds, most recent first.
	CompletedRounds(ctx context.Context, cycleID string) ([]consensus.RoundResult, error)
	CompleteRound(ctx context.Context, c Completion) error
}

// Scorer turns a round's ratings into winners. Calls must be idempotent.
type Scorer interface {
	ScoreRound(ctx context.Context, roundID string) ([]models.RoundWinner, error)
}
