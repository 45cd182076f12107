// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/danielhkuo/converge/models"
)

// ChatState is the public view of a chat. When no cycle is open it reports
// the most recent one.
func (s *SQLStore) ChatState(ctx context.Context, chatID string) (models.ChatState, error) {
	snap, err := s.LoadSnapshot(ctx, chatID)
	if err != nil {
		return models.ChatState{}, err
	}

	state := models.ChatState{
		Chat:               snap.Chat,
		Cycle:              snap.Cycle,
		Round:              snap.Round,
		ActiveParticipants: snap.ActiveParticipants,
		PropositionCount:   snap.Proposing.NewPropositions,
		SkipCount:          snap.Proposing.Skips,
		RaterCount:         snap.Rating.Raters,
	}

	if state.Cycle == nil {
		c, err := scanCycle(s.db.QueryRowContext(ctx, `
			SELECT `+cycleColumns+` FROM cycle
			WHERE chat_id = $1
			ORDER BY created_at DESC
			LIMIT 1
		`, chatID))
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return models.ChatState{}, fmt.Errorf("failed to load latest cycle: %w", err)
		default:
			state.Cycle = &c
		}
	}
	if state.ActiveParticipants == 0 {
		// LoadSnapshot stops counting when nothing is open
		if state.ActiveParticipants, err = s.ActiveParticipants(ctx, chatID); err != nil {
			return models.ChatState{}, err
		}
	}
	return state, nil
}

// Results lists every cycle of a chat with its completed rounds and their
// winners, oldest first.
func (s *SQLStore) Results(ctx context.Context, chatID string) (models.ResultsResponse, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return models.ResultsResponse{}, err
	}
	resp := models.ResultsResponse{ChatID: chatID, Cycles: []models.CycleResult{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cycleColumns+` FROM cycle WHERE chat_id = $1 ORDER BY created_at, id
	`, chatID)
	if err != nil {
		return resp, fmt.Errorf("failed to query cycles: %w", err)
	}
	cycleIndex := make(map[string]int)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			rows.Close()
			return resp, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycleIndex[c.ID] = len(resp.Cycles)
		resp.Cycles = append(resp.Cycles, models.CycleResult{Cycle: c, Rounds: []models.RoundResult{}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return resp, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT `+roundColumns+` FROM round
		WHERE cycle_id IN (SELECT id FROM cycle WHERE chat_id = $1) AND completed_at IS NOT NULL
		ORDER BY sequence_number
	`, chatID)
	if err != nil {
		return resp, fmt.Errorf("failed to query rounds: %w", err)
	}
	type position struct{ cycle, round int }
	roundIndex := make(map[string]position)
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			rows.Close()
			return resp, fmt.Errorf("failed to scan round: %w", err)
		}
		ci, ok := cycleIndex[r.CycleID]
		if !ok {
			continue
		}
		cr := &resp.Cycles[ci]
		roundIndex[r.ID] = position{cycle: ci, round: len(cr.Rounds)}
		cr.Rounds = append(cr.Rounds, models.RoundResult{Round: r, Winners: []models.RoundWinner{}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return resp, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT w.round_id, w.proposition_id, COALESCE(p.carried_from_id, ''), w.global_score, w.is_sole_winner
		FROM round_winner w
		JOIN proposition p ON w.proposition_id = p.id
		JOIN round r ON w.round_id = r.id
		JOIN cycle c ON r.cycle_id = c.id
		WHERE c.chat_id = $1
		ORDER BY w.round_id, w.proposition_id
	`, chatID)
	if err != nil {
		return resp, fmt.Errorf("failed to query winners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w models.RoundWinner
		if err := rows.Scan(&w.RoundID, &w.PropositionID, &w.OriginID, &w.GlobalScore, &w.IsSoleWinner); err != nil {
			return resp, fmt.Errorf("failed to scan winner: %w", err)
		}
		if pos, ok := roundIndex[w.RoundID]; ok {
			rr := &resp.Cycles[pos.cycle].Rounds[pos.round]
			rr.Winners = append(rr.Winners, w)
		}
	}
	return resp, rows.Err()
}
