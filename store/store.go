// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/converge/auth"
	"github.com/danielhkuo/converge/consensus"
	"github.com/danielhkuo/converge/engine"
	"github.com/danielhkuo/converge/models"
)

// ErrNotFound is returned when a chat, cycle or round does not exist.
var ErrNotFound = errors.New("not found")

// SQLStore implements the engine and scheduler ports on database/sql.
// Queries use $N placeholders, which both lib/pq and modernc sqlite accept.
type SQLStore struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB returns the underlying connection pool
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Ping checks that the database answers
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

const chatColumns = `
	id, name, COALESCE(invite_code, ''), proposing_duration_seconds, rating_duration_seconds,
	propositions_per_user, confirmation_rounds, proposing_minimum, rating_minimum,
	proposing_threshold_percent, proposing_threshold_count,
	rating_threshold_percent, rating_threshold_count,
	start_mode, rating_start_mode, auto_start_participant_count,
	adaptive_duration_enabled, adaptive_adjustment_percent,
	min_phase_duration_seconds, max_phase_duration_seconds, created_at`

func scanChat(row scanner) (models.Chat, error) {
	var c models.Chat
	var pp, pc, rp, rc sql.NullInt64
	var startMode, ratingStartMode string
	err := row.Scan(
		&c.ID, &c.Name, &c.InviteCode, &c.ProposingDurationSeconds, &c.RatingDurationSeconds,
		&c.PropositionsPerUser, &c.ConfirmationRounds, &c.ProposingMinimum, &c.RatingMinimum,
		&pp, &pc, &rp, &rc,
		&startMode, &ratingStartMode, &c.AutoStartParticipantCount,
		&c.AdaptiveDurationEnabled, &c.AdaptiveAdjustmentPercent,
		&c.MinPhaseDurationSeconds, &c.MaxPhaseDurationSeconds, &c.CreatedAt,
	)
	if err != nil {
		return models.Chat{}, err
	}
	c.StartMode = models.Mode(startMode)
	c.RatingStartMode = models.Mode(ratingStartMode)
	c.ProposingThreshold = models.ThresholdConfig{Percent: intPtr(pp), Count: intPtr(pc)}
	c.RatingThreshold = models.ThresholdConfig{Percent: intPtr(rp), Count: intPtr(rc)}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

const cycleColumns = `id, chat_id, winning_proposition_id, created_at, completed_at`

func scanCycle(row scanner) (models.Cycle, error) {
	var c models.Cycle
	var winner sql.NullString
	var completed sql.NullTime
	if err := row.Scan(&c.ID, &c.ChatID, &winner, &c.CreatedAt, &completed); err != nil {
		return models.Cycle{}, err
	}
	if winner.Valid {
		c.WinningPropositionID = &winner.String
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.CompletedAt = timePtr(completed)
	return c, nil
}

const roundColumns = `
	id, cycle_id, sequence_number, phase, phase_started_at, phase_ends_at, completed_at,
	proposing_duration_seconds, rating_duration_seconds,
	proposing_ended_at, proposing_ended_early, rating_ended_early`

func scanRound(row scanner) (models.Round, error) {
	var r models.Round
	var phase string
	var started, ends, completed, proposingEnded sql.NullTime
	var proposingEarly, ratingEarly sql.NullBool
	err := row.Scan(
		&r.ID, &r.CycleID, &r.SequenceNumber, &phase, &started, &ends, &completed,
		&r.ProposingDurationSeconds, &r.RatingDurationSeconds,
		&proposingEnded, &proposingEarly, &ratingEarly,
	)
	if err != nil {
		return models.Round{}, err
	}
	r.Phase = models.Phase(phase)
	r.PhaseStartedAt = timePtr(started)
	r.PhaseEndsAt = timePtr(ends)
	r.CompletedAt = timePtr(completed)
	r.ProposingEndedAt = timePtr(proposingEnded)
	r.ProposingEndedEarly = boolPtr(proposingEarly)
	r.RatingEndedEarly = boolPtr(ratingEarly)
	return r, nil
}

// GetChat loads a chat's settings.
func (s *SQLStore) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	chat, err := scanChat(s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chat WHERE id = $1`, chatID))
	if err == sql.ErrNoRows {
		return models.Chat{}, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return models.Chat{}, fmt.Errorf("failed to load chat: %w", err)
	}
	return chat, nil
}

// LoadSnapshot reads everything one engine tick needs.
func (s *SQLStore) LoadSnapshot(ctx context.Context, chatID string) (*engine.Snapshot, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	snap := &engine.Snapshot{Chat: chat}

	cycles, err := s.openCycles(ctx, chatID)
	if err != nil {
		return nil, err
	}
	switch len(cycles) {
	case 0:
		return snap, nil
	case 1:
		snap.Cycle = &cycles[0]
	default:
		return nil, fmt.Errorf("chat %s has %d open cycles: %w", chatID, len(cycles), engine.ErrInvariant)
	}

	rounds, err := s.openRounds(ctx, snap.Cycle.ID)
	if err != nil {
		return nil, err
	}
	switch len(rounds) {
	case 0:
		return snap, nil
	case 1:
		snap.Round = &rounds[0]
	default:
		return nil, fmt.Errorf("cycle %s has %d open rounds: %w", snap.Cycle.ID, len(rounds), engine.ErrInvariant)
	}

	if snap.ActiveParticipants, err = s.ActiveParticipants(ctx, chatID); err != nil {
		return nil, err
	}
	if snap.Proposing, err = s.proposingStats(ctx, snap.Round.ID); err != nil {
		return nil, err
	}
	if snap.Rating, err = s.ratingStats(ctx, snap.Round.ID); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLStore) openCycles(ctx context.Context, chatID string) ([]models.Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cycleColumns+` FROM cycle
		WHERE chat_id = $1 AND completed_at IS NULL
		ORDER BY created_at DESC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []models.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

func (s *SQLStore) openRounds(ctx context.Context, cycleID string) ([]models.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roundColumns+` FROM round
		WHERE cycle_id = $1 AND completed_at IS NULL
		ORDER BY sequence_number
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// ActiveParticipants counts the chat's participants with status active.
func (s *SQLStore) ActiveParticipants(ctx context.Context, chatID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participant WHERE chat_id = $1 AND status = $2
	`, chatID, models.StatusActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return n, nil
}

// Carried-forward copies have carried_from_id set and never count as
// submissions.
func (s *SQLStore) proposingStats(ctx context.Context, roundID string) (engine.ProposingStats, error) {
	var st engine.ProposingStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT p.participant_id), COUNT(*)
		FROM proposition p
		JOIN participant pa ON p.participant_id = pa.id
		WHERE p.round_id = $1 AND p.carried_from_id IS NULL AND pa.status = $2
	`, roundID, models.StatusActive).Scan(&st.Submitters, &st.NewPropositions)
	if err != nil {
		return st, fmt.Errorf("failed to count propositions: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM round_skip k
		JOIN participant pa ON k.participant_id = pa.id
		WHERE k.round_id = $1 AND pa.status = $2
	`, roundID, models.StatusActive).Scan(&st.Skips)
	if err != nil {
		return st, fmt.Errorf("failed to count skips: %w", err)
	}
	return st, nil
}

func (s *SQLStore) ratingStats(ctx context.Context, roundID string) (engine.RatingStats, error) {
	var st engine.RatingStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM proposition WHERE round_id = $1
	`, roundID).Scan(&st.Propositions)
	if err != nil {
		return st, fmt.Errorf("failed to count propositions: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT r.participant_id), COUNT(*)
		FROM rating r
		JOIN participant pa ON r.participant_id = pa.id
		WHERE r.round_id = $1 AND pa.status = $2
	`, roundID, models.StatusActive).Scan(&st.Raters, &st.Ratings)
	if err != nil {
		return st, fmt.Errorf("failed to count ratings: %w", err)
	}
	return st, nil
}

// TransitionRound applies t only if the round is still open and in t.From.
func (s *SQLStore) TransitionRound(ctx context.Context, t engine.Transition) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE round
		SET phase = $1,
			phase_started_at = $2,
			phase_ends_at = $3,
			proposing_ended_at = COALESCE($4, proposing_ended_at),
			proposing_ended_early = COALESCE($5, proposing_ended_early)
		WHERE id = $6 AND phase = $7 AND completed_at IS NULL
	`, string(t.To), t.PhaseStartedAt.UTC(), utcPtr(t.PhaseEndsAt),
		utcPtr(t.ProposingEndedAt), t.ProposingEndedEarly,
		t.RoundID, string(t.From))
	if err != nil {
		return fmt.Errorf("failed to update round: %w", err)
	}
	return requireOneRow(res)
}

// ExtendDeadline moves the deadline only if nobody else has since.
func (s *SQLStore) ExtendDeadline(ctx context.Context, x engine.Extension) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE round SET phase_ends_at = $1
		WHERE id = $2 AND phase = $3 AND completed_at IS NULL AND phase_ends_at = $4
	`, x.NewEndsAt.UTC(), x.RoundID, string(x.Phase), x.PreviousEndsAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to extend deadline: %w", err)
	}
	return requireOneRow(res)
}

// CompletedRounds returns the cycle's completed rounds, most recent first.
// Winners are reported by lineage so a carried copy matches its original.
func (s *SQLStore) CompletedRounds(ctx context.Context, cycleID string) ([]consensus.RoundResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM round
		WHERE cycle_id = $1 AND completed_at IS NOT NULL
		ORDER BY sequence_number DESC
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed rounds: %w", err)
	}
	var results []consensus.RoundResult
	index := make(map[string]int)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		index[id] = len(results)
		results = append(results, consensus.RoundResult{RoundID: id, Winners: []consensus.Winner{}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return results, nil
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT w.round_id, COALESCE(p.carried_from_id, p.id), w.is_sole_winner
		FROM round_winner w
		JOIN round r ON w.round_id = r.id
		JOIN proposition p ON w.proposition_id = p.id
		WHERE r.cycle_id = $1
		ORDER BY w.round_id, w.proposition_id
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query round winners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roundID string
		var w consensus.Winner
		if err := rows.Scan(&roundID, &w.PropositionID, &w.IsSole); err != nil {
			return nil, fmt.Errorf("failed to scan winner: %w", err)
		}
		if i, ok := index[roundID]; ok {
			results[i].Winners = append(results[i].Winners, w)
		}
	}
	return results, rows.Err()
}

// CompleteRound records winners and closes the round, then either closes
// the cycle or opens the next round with the winners carried into it. It is
// one transaction; a round that is no longer in rating aborts it with
// engine.ErrStaleTransition.
func (s *SQLStore) CompleteRound(ctx context.Context, c engine.Completion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	completedAt := c.CompletedAt.UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE round
		SET phase = $1, completed_at = $2, phase_ends_at = NULL, rating_ended_early = $3
		WHERE id = $4 AND phase = $5 AND completed_at IS NULL
	`, string(models.PhaseCompleted), completedAt, c.RatingEndedEarly, c.RoundID, string(models.PhaseRating))
	if err != nil {
		return fmt.Errorf("failed to complete round: %w", err)
	}
	if err := requireOneRow(res); err != nil {
		return err
	}

	for _, w := range c.Winners {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO round_winner (round_id, proposition_id, global_score, is_sole_winner)
			VALUES ($1, $2, $3, $4)
		`, c.RoundID, w.PropositionID, w.GlobalScore, w.IsSoleWinner)
		if err != nil {
			return fmt.Errorf("failed to insert winner: %w", err)
		}
	}

	if c.CycleWinnerID != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE cycle SET completed_at = $1, winning_proposition_id = $2
			WHERE id = $3 AND completed_at IS NULL
		`, completedAt, *c.CycleWinnerID, c.CycleID)
		if err != nil {
			return fmt.Errorf("failed to complete cycle: %w", err)
		}
		if err := requireOneRow(res); err != nil {
			return err
		}
	} else if c.NextRound != nil {
		if err := insertNextRound(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit round completion: %w", err)
	}
	return nil
}

func insertNextRound(ctx context.Context, tx *sql.Tx, c engine.Completion) error {
	n := c.NextRound
	roundID, err := auth.GenerateID(16)
	if err != nil {
		return fmt.Errorf("failed to generate round ID: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO round (id, cycle_id, sequence_number, phase, phase_started_at, phase_ends_at,
			proposing_duration_seconds, rating_duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, roundID, c.CycleID, n.SequenceNumber, string(n.Phase), n.PhaseStartedAt.UTC(), utcPtr(n.PhaseEndsAt),
		n.ProposingDurationSeconds, n.RatingDurationSeconds)
	if err != nil {
		// UNIQUE (cycle_id, sequence_number) catches a concurrent creator
		return fmt.Errorf("failed to insert round %d: %w", n.SequenceNumber, err)
	}

	for _, w := range c.Winners {
		copyID, err := auth.GenerateID(12)
		if err != nil {
			return fmt.Errorf("failed to generate proposition ID: %w", err)
		}
		// carried_from_id always names the first copy
		_, err = tx.ExecContext(ctx, `
			INSERT INTO proposition (id, round_id, participant_id, carried_from_id, content, created_at)
			SELECT $1, $2, participant_id, COALESCE(carried_from_id, id), content, $3
			FROM proposition WHERE id = $4
		`, copyID, roundID, n.PhaseStartedAt.UTC(), w.PropositionID)
		if err != nil {
			return fmt.Errorf("failed to carry proposition forward: %w", err)
		}
	}

	slog.Debug("round created", "cycle_id", c.CycleID, "round_id", roundID,
		"sequence", n.SequenceNumber, "carried", len(c.Winners))
	return nil
}

// ListSchedulableChats returns chats whose open cycle has a current round,
// including rounds held in waiting.
func (s *SQLStore) ListSchedulableChats(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.chat_id
		FROM cycle c
		JOIN round r ON r.cycle_id = c.id
		WHERE c.completed_at IS NULL AND r.completed_at IS NULL
		ORDER BY c.chat_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return engine.ErrStaleTransition
	}
	return nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
