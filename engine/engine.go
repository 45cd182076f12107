// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielhkuo/converge/adaptive"
	"github.com/danielhkuo/converge/consensus"
	"github.com/danielhkuo/converge/models"
	"github.com/danielhkuo/converge/threshold"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"
)

// Action is what a tick did to a chat.
type Action string

// Tick outcomes
const (
	ActionNone           Action = "none"
	ActionAutoStarted    Action = "auto_started"
	ActionPhaseAdvanced  Action = "phase_advanced"
	ActionRoundCompleted Action = "round_completed"
	ActionCycleCompleted Action = "cycle_completed"
	ActionTimerExtended  Action = "timer_extended"
)

// Advanced reports whether the action moved a round forward.
func (a Action) Advanced() bool {
	return a == ActionPhaseAdvanced || a == ActionRoundCompleted || a == ActionCycleCompleted
}

type Result struct {
	ChatID     string
	RoundID    string
	Action     Action
	From       models.Phase
	To         models.Phase
	Checked    bool // the chat had an open round
	RaceLost   bool
	EndedEarly bool
	WinnerID   string // set on cycle completion
}

// Options configure an Engine. The zero value uses the wall clock and exact
// deadlines.
type Options struct {
	AlignToMinute bool
	Clock         func() time.Time
}

// Engine is the round and phase state machine. It holds no chat state
// between calls; every decision is made from a fresh Snapshot and written
// with a conditional update.
type Engine struct {
	store  Store
	scorer Scorer
	opts   Options
	group  singleflight.Group
}

func New(store Store, scorer Scorer, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{store: store, scorer: scorer, opts: opts}
}

// AlignToMinute rounds t up to the next whole minute. Times already on a
// minute boundary are returned unchanged.
func AlignToMinute(t time.Time) time.Time {
	truncated := t.Truncate(time.Minute)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(time.Minute)
}

func (e *Engine) now() time.Time {
	return e.opts.Clock().UTC().Truncate(time.Second)
}

// deadline returns nil for a non-positive duration (no deadline).
func (e *Engine) deadline(from time.Time, seconds int) *time.Time {
	if seconds <= 0 {
		return nil
	}
	t := from.Add(time.Duration(seconds) * time.Second)
	if e.opts.AlignToMinute {
		t = AlignToMinute(t)
	}
	return &t
}

// Tick evaluates one chat and applies at most one transition.
func (e *Engine) Tick(ctx context.Context, chatID string) (Result, error) {
	res := Result{ChatID: chatID, Action: ActionNone}

	snap, err := e.store.LoadSnapshot(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrInvariant) {
			slog.Error("invariant violation", "chat_id", chatID, "error", err)
		}
		return res, fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}
	if snap.Cycle == nil || snap.Round == nil {
		return res, nil
	}

	round := snap.Round
	res.RoundID = round.ID
	res.From = round.Phase
	res.Checked = true

	now := e.now()
	switch round.Phase {
	case models.PhaseWaiting:
		res, err = e.tickWaiting(ctx, snap, now, res)
	case models.PhaseProposing:
		res, err = e.tickProposing(ctx, snap, now, res)
	case models.PhaseRating:
		res, err = e.tickRating(ctx, snap, now, res)
	}

	if errors.Is(err, ErrStaleTransition) {
		slog.Debug("transition lost race", "chat_id", chatID, "round_id", round.ID, "phase", round.Phase)
		res.Action = ActionNone
		res.To = ""
		res.RaceLost = true
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("chat %s round %s: %w", chatID, round.ID, err)
	}
	return res, nil
}

func (e *Engine) tickWaiting(ctx context.Context, snap *Snapshot, now time.Time, res Result) (Result, error) {
	round, chat := snap.Round, snap.Chat

	// Held between proposing and rating until the host releases it
	if round.AwaitingRatingRelease() {
		return res, nil
	}
	if chat.StartMode != models.ModeAuto {
		return res, nil
	}
	if snap.ActiveParticipants < max(1, chat.AutoStartParticipantCount) {
		return res, nil
	}

	t := e.startProposing(snap, now)
	if err := e.store.TransitionRound(ctx, t); err != nil {
		return res, err
	}

	slog.Info("round auto-started",
		"chat_id", chat.ID,
		"round_id", round.ID,
		"participants", snap.ActiveParticipants,
		"ends", formatDeadline(t.PhaseEndsAt))

	res.Action = ActionAutoStarted
	res.To = models.PhaseProposing
	return res, nil
}

func (e *Engine) startProposing(snap *Snapshot, now time.Time) Transition {
	seconds := snap.Round.ProposingDurationSeconds
	if seconds <= 0 {
		seconds = adaptive.Initial(adaptive.FromChat(snap.Chat), snap.Chat.ProposingDurationSeconds)
	}
	return Transition{
		RoundID:        snap.Round.ID,
		From:           models.PhaseWaiting,
		To:             models.PhaseProposing,
		PhaseStartedAt: now,
		PhaseEndsAt:    e.deadline(now, seconds),
	}
}

func (e *Engine) startRating(snap *Snapshot, from models.Phase, now time.Time) Transition {
	seconds := snap.Round.RatingDurationSeconds
	if seconds <= 0 {
		seconds = adaptive.Initial(adaptive.FromChat(snap.Chat), snap.Chat.RatingDurationSeconds)
	}
	return Transition{
		RoundID:        snap.Round.ID,
		From:           from,
		To:             models.PhaseRating,
		PhaseStartedAt: now,
		PhaseEndsAt:    e.deadline(now, seconds),
	}
}

func expired(round *models.Round, now time.Time) bool {
	return round.PhaseEndsAt != nil && !now.Before(*round.PhaseEndsAt)
}

// proposingThresholdMet always uses the skip-aware check, so the count floor
// is min(count, active-skips) whether or not anyone skipped.
func proposingThresholdMet(snap *Snapshot) bool {
	cfg := threshold.FromModel(snap.Chat.ProposingThreshold)
	p := snap.Proposing
	ok, _ := threshold.AdvancesWithSkips(cfg, p.Submitters, p.Skips, snap.ActiveParticipants)
	return ok
}

func (e *Engine) tickProposing(ctx context.Context, snap *Snapshot, now time.Time, res Result) (Result, error) {
	round, chat := snap.Round, snap.Chat
	minimumMet := snap.Proposing.NewPropositions >= chat.ProposingMinimum

	early := false
	if !expired(round, now) {
		if !minimumMet || !proposingThresholdMet(snap) {
			return res, nil
		}
		early = true
		slog.Debug("proposing threshold met",
			"chat_id", chat.ID,
			"round_id", round.ID,
			"submitters", snap.Proposing.Submitters,
			"skips", snap.Proposing.Skips,
			"required", threshold.Explain(threshold.FromModel(chat.ProposingThreshold), snap.ActiveParticipants))
	} else if !minimumMet {
		return e.extend(ctx, snap, now, chat.ProposingDurationSeconds, round.ProposingDurationSeconds, res)
	}

	var t Transition
	if chat.RatingStartMode == models.ModeManual {
		t = Transition{
			RoundID:        round.ID,
			From:           models.PhaseProposing,
			To:             models.PhaseWaiting,
			PhaseStartedAt: now,
		}
	} else {
		t = e.startRating(snap, models.PhaseProposing, now)
	}
	t.ProposingEndedAt = &now
	t.ProposingEndedEarly = &early

	if err := e.store.TransitionRound(ctx, t); err != nil {
		return res, err
	}

	slog.Info("proposing ended",
		"chat_id", chat.ID,
		"round_id", round.ID,
		"early", early,
		"propositions", snap.Proposing.NewPropositions,
		"next_phase", t.To,
		"ends", formatDeadline(t.PhaseEndsAt))

	res.Action = ActionPhaseAdvanced
	res.To = t.To
	res.EndedEarly = early
	return res, nil
}

func (e *Engine) tickRating(ctx context.Context, snap *Snapshot, now time.Time, res Result) (Result, error) {
	round, chat := snap.Round, snap.Chat
	stats := snap.Rating
	minimumMet := stats.AverageRatings() >= chat.RatingMinimum

	early := false
	if !expired(round, now) {
		if stats.Propositions == 0 || !minimumMet {
			return res, nil
		}
		cfg := threshold.FromModel(chat.RatingThreshold)
		if !threshold.AdvancesRating(cfg, stats.Raters, snap.ActiveParticipants) {
			return res, nil
		}
		early = true
	} else if stats.Propositions > 0 && !minimumMet {
		return e.extend(ctx, snap, now, chat.RatingDurationSeconds, round.RatingDurationSeconds, res)
	}

	return e.complete(ctx, snap, now, early, res)
}

// extend pushes an expired deadline forward by the phase's duration.
func (e *Engine) extend(ctx context.Context, snap *Snapshot, now time.Time, nominal, assigned int, res Result) (Result, error) {
	round := snap.Round
	seconds := assigned
	if seconds <= 0 {
		seconds = nominal
	}
	ends := e.deadline(now, seconds)
	if ends == nil || !ends.After(*round.PhaseEndsAt) {
		return res, nil
	}

	x := Extension{
		RoundID:        round.ID,
		Phase:          round.Phase,
		PreviousEndsAt: *round.PhaseEndsAt,
		NewEndsAt:      *ends,
	}
	if err := e.store.ExtendDeadline(ctx, x); err != nil {
		return res, err
	}

	slog.Info("phase deadline extended",
		"chat_id", snap.Chat.ID,
		"round_id", round.ID,
		"phase", round.Phase,
		"ends", formatDeadline(ends))

	res.Action = ActionTimerExtended
	res.To = round.Phase
	return res, nil
}

// score coalesces concurrent scoring of the same round within this process.
func (e *Engine) score(ctx context.Context, roundID string) ([]models.RoundWinner, error) {
	v, err, _ := e.group.Do(roundID, func() (any, error) {
		return e.scorer.ScoreRound(ctx, roundID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.RoundWinner), nil
}

func (e *Engine) complete(ctx context.Context, snap *Snapshot, now time.Time, early bool, res Result) (Result, error) {
	round, chat, cycle := snap.Round, snap.Chat, snap.Cycle

	winners, err := e.score(ctx, round.ID)
	if err != nil {
		return res, fmt.Errorf("failed to score round: %w", err)
	}

	history, err := e.store.CompletedRounds(ctx, cycle.ID)
	if err != nil {
		return res, fmt.Errorf("failed to load completed rounds: %w", err)
	}
	rounds := make([]consensus.RoundResult, 0, len(history)+1)
	rounds = append(rounds, consensus.FromRoundWinners(round.ID, winners))
	rounds = append(rounds, history...)
	status := consensus.Evaluate(rounds, chat.ConfirmationRounds)

	c := Completion{
		ChatID:           chat.ID,
		CycleID:          cycle.ID,
		RoundID:          round.ID,
		CompletedAt:      now,
		RatingEndedEarly: early,
		Winners:          winners,
	}
	if status.Reached {
		winnerID := status.PropositionID
		c.CycleWinnerID = &winnerID
	} else {
		c.NextRound = e.nextRound(snap, now, early)
	}

	if err := e.store.CompleteRound(ctx, c); err != nil {
		return res, err
	}

	res.To = models.PhaseCompleted
	res.EndedEarly = early
	if status.Reached {
		res.Action = ActionCycleCompleted
		res.WinnerID = status.PropositionID
		slog.Info("consensus reached",
			"chat_id", chat.ID,
			"cycle_id", cycle.ID,
			"round_id", round.ID,
			"proposition_id", status.PropositionID,
			"consecutive_wins", status.ConsecutiveSoleWins)
		return res, nil
	}

	res.Action = ActionRoundCompleted
	slog.Info("round completed",
		"chat_id", chat.ID,
		"round_id", round.ID,
		"winners", len(winners),
		"consecutive_wins", status.ConsecutiveSoleWins,
		"next_sequence", c.NextRound.SequenceNumber,
		"ends", formatDeadline(c.NextRound.PhaseEndsAt))
	return res, nil
}

// nextRound sizes the following round from how this round's phases ended.
func (e *Engine) nextRound(snap *Snapshot, now time.Time, ratingEarly bool) *NextRound {
	round, chat := snap.Round, snap.Chat
	settings := adaptive.FromChat(chat)

	proposingEarly := round.ProposingEndedEarly != nil && *round.ProposingEndedEarly
	proposing := adaptive.Next(settings, chat.ProposingDurationSeconds, round.ProposingDurationSeconds, adaptive.OutcomeFor(proposingEarly))
	rating := adaptive.Next(settings, chat.RatingDurationSeconds, round.RatingDurationSeconds, adaptive.OutcomeFor(ratingEarly))

	return &NextRound{
		SequenceNumber:           round.SequenceNumber + 1,
		Phase:                    models.PhaseProposing,
		PhaseStartedAt:           now,
		PhaseEndsAt:              e.deadline(now, proposing),
		ProposingDurationSeconds: proposing,
		RatingDurationSeconds:    rating,
	}
}

// Start releases a chat's waiting round: a round that has not proposed yet
// moves to proposing, one held after proposing moves to rating.
func (e *Engine) Start(ctx context.Context, chatID string) (Result, error) {
	res := Result{ChatID: chatID, Action: ActionNone}

	snap, err := e.store.LoadSnapshot(ctx, chatID)
	if err != nil {
		return res, fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}
	if snap.Cycle == nil || snap.Round == nil {
		return res, ErrNoOpenRound
	}
	round := snap.Round
	res.RoundID = round.ID
	res.From = round.Phase
	res.Checked = true
	if round.Phase != models.PhaseWaiting {
		return res, ErrNotWaiting
	}

	now := e.now()
	var t Transition
	if round.AwaitingRatingRelease() {
		t = e.startRating(snap, models.PhaseWaiting, now)
	} else {
		t = e.startProposing(snap, now)
	}
	if err := e.store.TransitionRound(ctx, t); err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return res, ErrNotWaiting
		}
		return res, err
	}

	slog.Info("round released",
		"chat_id", chatID,
		"round_id", round.ID,
		"phase", t.To,
		"ends", formatDeadline(t.PhaseEndsAt))

	res.Action = ActionPhaseAdvanced
	res.To = t.To
	return res, nil
}

func formatDeadline(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return humanize.Time(*t)
}
