// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package consensus

import (
	"testing"

	"github.com/danielhkuo/converge/models"
)

func sole(roundID, propID string) RoundResult {
	return RoundResult{RoundID: roundID, Winners: []Winner{{PropositionID: propID, IsSole: true}}}
}

func tied(roundID string, propIDs ...string) RoundResult {
	rr := RoundResult{RoundID: roundID}
	for _, id := range propIDs {
		rr.Winners = append(rr.Winners, Winner{PropositionID: id})
	}
	return rr
}

func TestConsecutiveSoleWins(t *testing.T) {
	testCases := []struct {
		name           string
		rounds         []RoundResult
		expectedStreak int
		expectedID     string
	}{
		{"no rounds", nil, 0, ""},
		{"same winner three times", []RoundResult{sole("r3", "P1"), sole("r2", "P1"), sole("r1", "P1")}, 3, "P1"},
		{"broken by different winner", []RoundResult{sole("r3", "P1"), sole("r2", "P2"), sole("r1", "P1")}, 1, "P1"},
		{"latest round tied", []RoundResult{tied("r2", "P1", "P2"), sole("r1", "P1")}, 0, ""},
		{"tie breaks streak", []RoundResult{sole("r3", "P1"), tied("r2", "P1", "P2"), sole("r1", "P1")}, 1, "P1"},
		{"no winner breaks streak", []RoundResult{sole("r3", "P1"), {RoundID: "r2"}, sole("r1", "P1")}, 1, "P1"},
		{"latest round has no winner", []RoundResult{{RoundID: "r1"}}, 0, ""},
		{"single winner not flagged sole", []RoundResult{{RoundID: "r1", Winners: []Winner{{PropositionID: "P1"}}}}, 0, ""},
		{"streak of two then other", []RoundResult{sole("r4", "P2"), sole("r3", "P2"), sole("r2", "P1")}, 2, "P2"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			streak, id := ConsecutiveSoleWins(tc.rounds)
			if streak != tc.expectedStreak {
				t.Errorf("expected streak %d, got %d", tc.expectedStreak, streak)
			}
			if id != tc.expectedID {
				t.Errorf("expected proposition %q, got %q", tc.expectedID, id)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	rounds := []RoundResult{sole("r3", "P1"), sole("r2", "P1"), sole("r1", "P1")}
	status := Evaluate(rounds, 2)
	if status.ConsecutiveSoleWins != 3 || !status.Reached || status.PropositionID != "P1" {
		t.Errorf("expected 3 wins, reached, P1; got %+v", status)
	}

	rounds = []RoundResult{sole("r3", "P1"), sole("r2", "P2"), sole("r1", "P1")}
	for _, confirmation := range []int{2, 3, 5} {
		status = Evaluate(rounds, confirmation)
		if status.ConsecutiveSoleWins != 1 || status.Reached {
			t.Errorf("confirmation=%d: expected 1 win, not reached; got %+v", confirmation, status)
		}
	}

	status = Evaluate([]RoundResult{sole("r1", "P9")}, 1)
	if !status.Reached || status.PropositionID != "P9" {
		t.Errorf("expected single sole win to reach confirmation 1, got %+v", status)
	}

	// Malformed confirmation count behaves like 1
	status = Evaluate([]RoundResult{sole("r1", "P9")}, 0)
	if !status.Reached {
		t.Errorf("expected confirmation 0 to be treated as 1, got %+v", status)
	}
	status = Evaluate([]RoundResult{tied("r1", "P1", "P2")}, 0)
	if status.Reached {
		t.Errorf("a tie must never reach consensus, got %+v", status)
	}
}

func TestFromRoundWinners(t *testing.T) {
	rr := FromRoundWinners("r1", []models.RoundWinner{
		{RoundID: "r1", PropositionID: "P1", GlobalScore: 80, IsSoleWinner: true},
	})
	id, ok := rr.soleWinner()
	if !ok || id != "P1" {
		t.Errorf("expected sole winner P1, got %q (ok=%v)", id, ok)
	}

	rr = FromRoundWinners("r2", []models.RoundWinner{
		{RoundID: "r2", PropositionID: "P1-copy", OriginID: "P1", IsSoleWinner: true},
	})
	if id, _ := rr.soleWinner(); id != "P1" {
		t.Errorf("expected carried copy to count as P1, got %q", id)
	}

	rr = FromRoundWinners("r3", nil)
	if _, ok := rr.soleWinner(); ok {
		t.Error("round without winners should have no sole winner")
	}
}
