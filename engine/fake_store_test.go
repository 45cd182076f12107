// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danielhkuo/converge/consensus"
	"github.com/danielhkuo/converge/models"
)

// fakeStore is an in-memory Store with the same conditional-write rules as
// the SQL store.
type fakeStore struct {
	mu sync.Mutex

	chat      models.Chat
	cycles    []*models.Cycle
	rounds    []*models.Round
	active    int
	proposing map[string]ProposingStats
	rating    map[string]RatingStats
	winners   map[string][]models.RoundWinner

	transitions int
	extensions  int
	completions int

	frozen  *Snapshot // when set, LoadSnapshot returns this instead of live state
	loadErr error
}

func newFakeStore(chat models.Chat, round *models.Round) *fakeStore {
	if chat.ID == "" {
		chat.ID = "chat-1"
	}
	cycle := &models.Cycle{ID: "c1", ChatID: chat.ID}
	round.CycleID = cycle.ID
	if round.SequenceNumber == 0 {
		round.SequenceNumber = 1
	}
	return &fakeStore{
		chat:      chat,
		cycles:    []*models.Cycle{cycle},
		rounds:    []*models.Round{round},
		proposing: map[string]ProposingStats{},
		rating:    map[string]RatingStats{},
		winners:   map[string][]models.RoundWinner{},
	}
}

func (s *fakeStore) openCycle() *models.Cycle {
	for _, c := range s.cycles {
		if c.CompletedAt == nil {
			return c
		}
	}
	return nil
}

func (s *fakeStore) round(id string) *models.Round {
	for _, r := range s.rounds {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *fakeStore) live() (*Snapshot, error) {
	snap := &Snapshot{Chat: s.chat, ActiveParticipants: s.active}
	cycle := s.openCycle()
	if cycle == nil {
		return snap, nil
	}
	c := *cycle
	snap.Cycle = &c

	var open []*models.Round
	for _, r := range s.rounds {
		if r.CycleID == cycle.ID && r.CompletedAt == nil {
			open = append(open, r)
		}
	}
	if len(open) > 1 {
		return nil, fmt.Errorf("cycle %s has %d open rounds: %w", cycle.ID, len(open), ErrInvariant)
	}
	if len(open) == 1 {
		r := *open[0]
		snap.Round = &r
		snap.Proposing = s.proposing[r.ID]
		snap.Rating = s.rating[r.ID]
	}
	return snap, nil
}

// freeze pins the snapshot every later load returns, simulating sweeps that
// all read before any of them writes.
func (s *fakeStore) freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.live()
	if err != nil {
		panic(err)
	}
	s.frozen = snap
}

func (s *fakeStore) LoadSnapshot(ctx context.Context, chatID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.frozen != nil {
		snap := *s.frozen
		if snap.Round != nil {
			r := *snap.Round
			snap.Round = &r
		}
		return &snap, nil
	}
	return s.live()
}

func (s *fakeStore) TransitionRound(ctx context.Context, t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(t.RoundID)
	if r == nil || r.Phase != t.From || r.CompletedAt != nil {
		return ErrStaleTransition
	}
	started := t.PhaseStartedAt
	r.Phase = t.To
	r.PhaseStartedAt = &started
	r.PhaseEndsAt = t.PhaseEndsAt
	if t.ProposingEndedAt != nil {
		r.ProposingEndedAt = t.ProposingEndedAt
	}
	if t.ProposingEndedEarly != nil {
		r.ProposingEndedEarly = t.ProposingEndedEarly
	}
	s.transitions++
	return nil
}

func (s *fakeStore) ExtendDeadline(ctx context.Context, x Extension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(x.RoundID)
	if r == nil || r.Phase != x.Phase || r.CompletedAt != nil || r.PhaseEndsAt == nil || !r.PhaseEndsAt.Equal(x.PreviousEndsAt) {
		return ErrStaleTransition
	}
	ends := x.NewEndsAt
	r.PhaseEndsAt = &ends
	s.extensions++
	return nil
}

func (s *fakeStore) CompletedRounds(ctx context.Context, cycleID string) ([]consensus.RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var done []*models.Round
	for _, r := range s.rounds {
		if r.CycleID == cycleID && r.CompletedAt != nil {
			done = append(done, r)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].SequenceNumber > done[j].SequenceNumber })

	out := make([]consensus.RoundResult, 0, len(done))
	for _, r := range done {
		out = append(out, consensus.FromRoundWinners(r.ID, s.winners[r.ID]))
	}
	return out, nil
}

func (s *fakeStore) CompleteRound(ctx context.Context, c Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.round(c.RoundID)
	if r == nil || r.Phase != models.PhaseRating || r.CompletedAt != nil {
		return ErrStaleTransition
	}

	completedAt := c.CompletedAt
	early := c.RatingEndedEarly
	r.Phase = models.PhaseCompleted
	r.CompletedAt = &completedAt
	r.PhaseEndsAt = nil
	r.RatingEndedEarly = &early
	s.winners[r.ID] = c.Winners
	s.completions++

	if c.CycleWinnerID != nil {
		for _, cy := range s.cycles {
			if cy.ID == c.CycleID {
				cy.CompletedAt = &completedAt
				cy.WinningPropositionID = c.CycleWinnerID
			}
		}
		return nil
	}

	next := c.NextRound
	started := next.PhaseStartedAt
	s.rounds = append(s.rounds, &models.Round{
		ID:                       fmt.Sprintf("r%d", len(s.rounds)+1),
		CycleID:                  c.CycleID,
		SequenceNumber:           next.SequenceNumber,
		Phase:                    next.Phase,
		PhaseStartedAt:           &started,
		PhaseEndsAt:              next.PhaseEndsAt,
		ProposingDurationSeconds: next.ProposingDurationSeconds,
		RatingDurationSeconds:    next.RatingDurationSeconds,
	})
	return nil
}

func (s *fakeStore) storedWinners(roundID string) ([]models.RoundWinner, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.winners[roundID]
	return w, ok
}

func (s *fakeStore) snapshotRound(id string) models.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.round(id)
}

func (s *fakeStore) counts() (transitions, extensions, completions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions, s.extensions, s.completions
}

// fakeScorer returns stored winners for rounds already completed and counts
// the computations it had to do.
type fakeScorer struct {
	store *fakeStore

	mu           sync.Mutex
	calls        int
	computations int
	err          error
	winners      []models.RoundWinner
}

func (f *fakeScorer) ScoreRound(ctx context.Context, roundID string) ([]models.RoundWinner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if w, ok := f.store.storedWinners(roundID); ok {
		return w, nil
	}
	f.computations++

	out := make([]models.RoundWinner, len(f.winners))
	for i, w := range f.winners {
		w.RoundID = roundID
		out[i] = w
	}
	return out, nil
}

func (f *fakeScorer) computed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.computations
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
