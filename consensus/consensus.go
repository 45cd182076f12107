// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package consensus tracks consecutive sole wins across the completed rounds
// of a cycle.
package consensus

import "github.com/danielhkuo/converge/models"

type Winner struct {
	PropositionID string
	IsSole        bool
}

// RoundResult is one completed round and its winners (zero or more).
type RoundResult struct {
	RoundID string
	Winners []Winner
}

// FromRoundWinners builds a RoundResult from stored winner rows. A carried
// copy counts as the statement it was copied from.
func FromRoundWinners(roundID string, winners []models.RoundWinner) RoundResult {
	rr := RoundResult{RoundID: roundID, Winners: make([]Winner, 0, len(winners))}
	for _, w := range winners {
		rr.Winners = append(rr.Winners, Winner{PropositionID: w.Lineage(), IsSole: w.IsSoleWinner})
	}
	return rr
}

// soleWinner returns the round's proposition when it has exactly one winner
// flagged as sole.
func (r RoundResult) soleWinner() (string, bool) {
	if len(r.Winners) != 1 || !r.Winners[0].IsSole {
		return "", false
	}
	return r.Winners[0].PropositionID, true
}

type Status struct {
	ConsecutiveSoleWins int
	PropositionID       string
	Reached             bool
}

// ConsecutiveSoleWins walks rounds most-recent-first and counts how many in a
// row were won outright by the same proposition.
func ConsecutiveSoleWins(rounds []RoundResult) (int, string) {
	if len(rounds) == 0 {
		return 0, ""
	}
	leader, ok := rounds[0].soleWinner()
	if !ok {
		return 0, ""
	}

	streak := 1
	for _, r := range rounds[1:] {
		id, ok := r.soleWinner()
		if !ok || id != leader {
			break
		}
		streak++
	}
	return streak, leader
}

// Evaluate reports whether the streak satisfies confirmationRounds. Values
// below 1 are treated as 1.
func Evaluate(rounds []RoundResult, confirmationRounds int) Status {
	required := max(1, confirmationRounds)
	streak, id := ConsecutiveSoleWins(rounds)
	return Status{
		ConsecutiveSoleWins: streak,
		PropositionID:       id,
		Reached:             streak > 0 && streak >= required,
	}
}
