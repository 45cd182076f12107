// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/danielhkuo/converge/engine"
	"github.com/danielhkuo/converge/models"
	"github.com/danielhkuo/converge/scoring"
	"github.com/danielhkuo/converge/testutil"
)

func openRoundID(t *testing.T, conn *sql.DB, cycleID string) string {
	t.Helper()
	var id string
	err := conn.QueryRow(`SELECT id FROM round WHERE cycle_id = $1 AND completed_at IS NULL`, cycleID).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to find open round: %v", err)
	}
	return id
}

func TestLoadSnapshotCounts(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	fx := testutil.CreateTestChat(t, conn, cfg, nil)
	s := New(conn)

	alice, _ := testutil.AddTestParticipant(t, conn, cfg, fx.Chat.ID, "Alice")
	bob, _ := testutil.AddTestParticipant(t, conn, cfg, fx.Chat.ID, "Bob")
	carol, _ := testutil.AddTestParticipant(t, conn, cfg, fx.Chat.ID, "Carol")
	testutil.SetParticipantStatus(t, conn, carol, models.StatusKicked)

	ends := time.Now().UTC().Add(time.Minute)
	testutil.SetRoundPhase(t, conn, fx.RoundID, models.PhaseProposing, &ends)

	a1 := testutil.AddTestProposition(t, conn, fx.RoundID, alice, "Alice one")
	testutil.AddTestProposition(t, conn, fx.RoundID, alice, "Alice two")
	testutil.AddTestProposition(t, conn, fx.RoundID, carol, "Kicked author")
	testutil.AddTestSkip(t, conn, fx.RoundID, bob)
	testutil.AddTestSkip(t, conn, fx.RoundID, carol)

	// A carried copy is not a submission
	if _, err := conn.Exec(`
		INSERT INTO proposition (id, round_id, participant_id, carried_from_id, content, created_at)
		VALUES ('carried', $1, $2, $3, 'copy', $4)
	`, fx.RoundID, fx.HostID, a1, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	testutil.AddTestRating(t, conn, fx.RoundID, bob, a1, 80)
	testutil.AddTestRating(t, conn, fx.RoundID, fx.HostID, a1, 60)
	testutil.AddTestRating(t, conn, fx.RoundID, carol, a1, 0)

	snap, err := s.LoadSnapshot(context.Background(), fx.Chat.ID)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}

	if snap.Cycle == nil || snap.Cycle.ID != fx.CycleID {
		t.Fatalf("expected cycle %s, got %+v", fx.CycleID, snap.Cycle)
	}
	if snap.Round == nil || snap.Round.ID != fx.RoundID || snap.Round.Phase != models.PhaseProposing {
		t.Fatalf("unexpected round %+v", snap.Round)
	}
	if snap.Round.PhaseEndsAt == nil || !snap.Round.PhaseEndsAt.Equal(ends) {
		t.Errorf("expected deadline %v, got %v", ends, snap.Round.PhaseEndsAt)
	}
	if snap.ActiveParticipants != 3 {
		t.Errorf("expected 3 active participants, got %d", snap.ActiveParticipants)
	}
	if snap.Proposing != (engine.ProposingStats{Submitters: 1, NewPropositions: 2, Skips: 1}) {
		t.Errorf("unexpected proposing stats %+v", snap.Proposing)
	}
	if snap.Rating != (engine.RatingStats{Propositions: 4, Raters: 2, Ratings: 2}) {
		t.Errorf("unexpected rating stats %+v", snap.Rating)
	}
	if snap.Chat.StartMode != models.ModeManual || snap.Chat.ProposingThreshold.Percent != nil {
		t.Errorf("chat settings not loaded: %+v", snap.Chat)
	}
}

func TestLoadSnapshotThresholds(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	pct, count := 60, 2
	fx := testutil.CreateTestChat(t, conn, cfg, func(c *models.Chat) {
		c.ProposingThreshold = models.ThresholdConfig{Percent: &pct}
		c.RatingThreshold = models.ThresholdConfig{Count: &count}
	})

	snap, err := New(conn).LoadSnapshot(context.Background(), fx.Chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	p := snap.Chat.ProposingThreshold
	if p.Percent == nil || *p.Percent != 60 || p.Count != nil {
		t.Errorf("unexpected proposing threshold %+v", p)
	}
	r := snap.Chat.RatingThreshold
	if r.Count == nil || *r.Count != 2 || r.Percent != nil {
		t.Errorf("unexpected rating threshold %+v", r)
	}
	if snap.Round.Phase != models.PhaseWaiting || snap.Round.PhaseEndsAt != nil {
		t.Errorf("expected waiting round without deadline, got %+v", snap.Round)
	}
}

func TestLoadSnapshotNotFound(t *testing.T) {
	conn := testutil.SetupTestDB(t)

	_, err := New(conn).LoadSnapshot(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadSnapshotTwoOpenRounds(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	fx := testutil.CreateTestChat(t, conn, cfg, nil)
	testutil.AddTestRound(t, conn, fx.CycleID, 2, models.PhaseProposing, nil)

	_, err := New(conn).LoadSnapshot(context.Background(), fx.Chat.ID)
	if !errors.Is(err, engine.ErrInvariant) {
		t.Errorf("expected ErrInvariant, got %v", err)
	}
}

func TestTransitionRoundConditional(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	fx := testutil.CreateTestChat(t, conn, cfg, nil)
	s := New(conn)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	ends := now.Add(5 * time.Minute)
	tr := engine.Transition{
		RoundID:        fx.RoundID,
		From:           models.PhaseWaiting,
		To:             models.PhaseProposing,
		PhaseStartedAt: now,
		PhaseEndsAt:    &ends,
	}
	if err := s.TransitionRound(ctx, tr); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}
	if err := s.TransitionRound(ctx, tr); !errors.Is(err, engine.ErrStaleTransition) {
		t.Errorf("expected ErrStaleTransition on repeat, got %v", err)
	}

	early := true
	toRating := engine.Transition{
		RoundID:             fx.RoundID,
		From:                models.PhaseProposing,
		To:                  models.PhaseRating,
		PhaseStartedAt:      now,
		PhaseEndsAt:         &ends,
		ProposingEndedAt:    &now,
		ProposingEndedEarly: &early,
	}
	if err := s.TransitionRound(ctx, toRating); err != nil {
		t.Fatalf("transition to rating failed: %v", err)
	}

	snap, err := s.LoadSnapshot(ctx, fx.Chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	r := snap.Round
	if r.Phase != models.PhaseRating {
		t.Errorf("expected rating, got %s", r.Phase)
	}
	if r.ProposingEndedEarly == nil || !*r.ProposingEndedEarly {
		t.Errorf("expected proposing_ended_early true, got %v", r.ProposingEndedEarly)
	}
	if r.ProposingEndedAt == nil || !r.ProposingEndedAt.Equal(now) {
		t.Errorf("expected proposing_ended_at %v, got %v", now, r.ProposingEndedAt)
	}
}

func TestExtendDeadlineConditional(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	fx := testutil.CreateTestChat(t, conn, cfg, nil)
	s := New(conn)
	ctx := context.Background()

	old := time.Now().UTC().Truncate(time.Second).Add(-time.Minute)
	testutil.SetRoundPhase(t, conn, fx.RoundID, models.PhaseProposing, &old)

	x := engine.Extension{
		RoundID:        fx.RoundID,
		Phase:          models.PhaseProposing,
		PreviousEndsAt: old,
		NewEndsAt:      old.Add(5 * time.Minute),
	}
	if err := s.ExtendDeadline(ctx, x); err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	// The deadline moved, so the same extension is stale
	if err := s.ExtendDeadline(ctx, x); !errors.Is(err, engine.ErrStaleTransition) {
		t.Errorf("expected ErrStaleTransition, got %v", err)
	}
}

func TestCompleteRoundCarriesWinnersForward(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	fx := testutil.CreateTestChat(t, conn, cfg, nil)
	s := New(conn)
	ctx := context.Background()

	alice, _ := testutil.AddTestParticipant(t, conn, cfg, fx.Chat.ID, "Alice")
	testutil.SetRoundPhase(t, conn, fx.RoundID, models.PhaseRating, nil)
	prop := testutil.AddTestProposition(t, conn, fx.RoundID, alice, "Meet on Friday")

	now := time.Now().UTC().Truncate(time.Second)
	ends := now.Add(5 * time.Minute)
	c := engine.Completion{
		ChatID:      fx.Chat.ID,
		CycleID:     fx.CycleID,
		RoundID:     fx.RoundID,
		CompletedAt: now,
		Winners:     []models.RoundWinner{{RoundID: fx.RoundID, PropositionID: prop, GlobalScore: 75, IsSoleWinner: true}},
		NextRound: &engine.NextRound{
			SequenceNumber:           2,
			Phase:                    models.PhaseProposing,
			PhaseStartedAt:           now,
			PhaseEndsAt:              &ends,
			ProposingDurationSeconds: 300,
			RatingDurationSeconds:    300,
		},
	}
	if err := s.CompleteRound(ctx, c); err != nil {
		t.Fatalf("CompleteRound failed: %v", err)
	}
	if err := s.CompleteRound(ctx, c); !errors.Is(err, engine.ErrStaleTransition) {
		t.Errorf("expected ErrStaleTransition on repeat, got %v", err)
	}

	next := openRoundID(t, conn, fx.CycleID)
	var participant, carriedFrom, content string
	err := conn.QueryRow(`
		SELECT participant_id, carried_from_id, content FROM proposition WHERE round_id = $1
	`, next).Scan(&participant, &carriedFrom, &content)
	if err != nil {
		t.Fatalf("expected one carried proposition: %v", err)
	}
	if participant != alice || carriedFrom != prop || content != "Meet on Friday" {
		t.Errorf("unexpected carried proposition %s %s %s", participant, carriedFrom, content)
	}

	history, err := s.CompletedRounds(ctx, fx.CycleID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].RoundID != fx.RoundID {
		t.Fatalf("unexpected history %+v", history)
	}
	if len(history[0].Winners) != 1 || history[0].Winners[0].PropositionID != prop || !history[0].Winners[0].IsSole {
		t.Errorf("unexpected winners %+v", history[0].Winners)
	}

	snap, err := s.LoadSnapshot(ctx, fx.Chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Round.SequenceNumber != 2 || snap.Proposing.NewPropositions != 0 {
		t.Errorf("carried proposition should not count as new: %+v %+v", snap.Round, snap.Proposing)
	}
}

func TestCompleteRoundClosesCycle(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	fx := testutil.CreateTestChat(t, conn, cfg, nil)
	s := New(conn)
	ctx := context.Background()

	testutil.SetRoundPhase(t, conn, fx.RoundID, models.PhaseRating, nil)
	prop := testutil.AddTestProposition(t, conn, fx.RoundID, fx.HostID, "Agreed")

	winner := prop
	err := s.CompleteRound(ctx, engine.Completion{
		ChatID:        fx.Chat.ID,
		CycleID:       fx.CycleID,
		RoundID:       fx.RoundID,
		CompletedAt:   time.Now().UTC(),
		Winners:       []models.RoundWinner{{RoundID: fx.RoundID, PropositionID: prop, IsSoleWinner: true}},
		CycleWinnerID: &winner,
	})
	if err != nil {
		t.Fatalf("CompleteRound failed: %v", err)
	}

	var stored sql.NullString
	if err := conn.QueryRow(`SELECT winning_proposition_id FROM cycle WHERE id = $1`, fx.CycleID).Scan(&stored); err != nil {
		t.Fatal(err)
	}
	if stored.String != prop {
		t.Errorf("expected cycle winner %s, got %v", prop, stored)
	}

	chats, err := s.ListSchedulableChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 0 {
		t.Errorf("completed chat should not be schedulable, got %v", chats)
	}
}

func TestListSchedulableChats(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	first := testutil.CreateTestChat(t, conn, cfg, nil)
	second := testutil.CreateTestChat(t, conn, cfg, nil)

	chats, err := New(conn).ListSchedulableChats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %v", chats)
	}
	seen := map[string]bool{chats[0]: true, chats[1]: true}
	if !seen[first.Chat.ID] || !seen[second.Chat.ID] {
		t.Errorf("expected both chats, got %v", chats)
	}
}

// Runs the real engine and scorer over SQLite through two rounds until the
// same statement wins twice.
func TestEngineOverSQLReachesConsensus(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	cfg := testutil.GetTestConfig()
	fx := testutil.CreateTestChat(t, conn, cfg, nil)
	s := New(conn)
	eng := engine.New(s, scoring.NewBMJScorer(conn), engine.Options{})
	ctx := context.Background()

	alice, _ := testutil.AddTestParticipant(t, conn, cfg, fx.Chat.ID, "Alice")
	bob, _ := testutil.AddTestParticipant(t, conn, cfg, fx.Chat.ID, "Bob")

	past := time.Now().UTC().Add(-time.Minute)
	testutil.SetRoundPhase(t, conn, fx.RoundID, models.PhaseRating, &past)
	a := testutil.AddTestProposition(t, conn, fx.RoundID, alice, "A")
	b := testutil.AddTestProposition(t, conn, fx.RoundID, bob, "B")
	testutil.AddTestRating(t, conn, fx.RoundID, fx.HostID, a, 90)
	testutil.AddTestRating(t, conn, fx.RoundID, fx.HostID, b, 20)
	testutil.AddTestRating(t, conn, fx.RoundID, bob, a, 80)
	testutil.AddTestRating(t, conn, fx.RoundID, alice, b, 30)

	res, err := eng.Tick(ctx, fx.Chat.ID)
	if err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	if res.Action != engine.ActionRoundCompleted {
		t.Fatalf("expected round_completed, got %s", res.Action)
	}

	round2 := openRoundID(t, conn, fx.CycleID)
	var copyID string
	if err := conn.QueryRow(`SELECT id FROM proposition WHERE round_id = $1`, round2).Scan(&copyID); err != nil {
		t.Fatalf("expected carried copy in round 2: %v", err)
	}

	testutil.SetRoundPhase(t, conn, round2, models.PhaseRating, &past)
	c := testutil.AddTestProposition(t, conn, round2, bob, "C")
	testutil.AddTestRating(t, conn, round2, fx.HostID, copyID, 95)
	testutil.AddTestRating(t, conn, round2, fx.HostID, c, 10)
	testutil.AddTestRating(t, conn, round2, bob, copyID, 70)

	res, err = eng.Tick(ctx, fx.Chat.ID)
	if err != nil {
		t.Fatalf("second tick failed: %v", err)
	}
	if res.Action != engine.ActionCycleCompleted {
		t.Fatalf("expected cycle_completed, got %s", res.Action)
	}
	if res.WinnerID != a {
		t.Errorf("expected the original proposition %s to win, got %s", a, res.WinnerID)
	}

	// Nothing left to do
	res, err = eng.Tick(ctx, fx.Chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action != engine.ActionNone || res.Checked {
		t.Errorf("expected no-op after consensus, got %+v", res)
	}
}

func TestSweepRunLog(t *testing.T) {
	conn := testutil.SetupTestDB(t)
	s := New(conn)
	ctx := context.Background()

	if _, err := s.LatestSweepRun(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before any run, got %v", err)
	}

	started := time.Now().UTC().Truncate(time.Second)
	id, err := s.StartSweepRun(ctx, started)
	if err != nil {
		t.Fatal(err)
	}

	run, err := s.LatestSweepRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.ID != id || run.Status != models.RunRunning || run.FinishedAt != nil {
		t.Errorf("unexpected running sweep %+v", run)
	}

	report := models.SweepReport{RoundsChecked: 3, PhasesAdvanced: 1, Errors: []string{"chat x: boom"}}
	if err := s.FinishSweepRun(ctx, id, started.Add(time.Second), report); err != nil {
		t.Fatal(err)
	}

	run, err = s.LatestSweepRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunPartial {
		t.Errorf("expected partial status, got %s", run.Status)
	}
	if run.Report == nil || run.Report.RoundsChecked != 3 || len(run.Report.Errors) != 1 {
		t.Errorf("unexpected stored report %+v", run.Report)
	}

	if err := s.FinishSweepRun(ctx, "missing", started, report); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown run, got %v", err)
	}
}
