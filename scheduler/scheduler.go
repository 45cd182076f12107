// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/converge/engine"
	"github.com/danielhkuo/converge/models"
)

// ChatLister finds the chats a sweep should look at.
type ChatLister interface {
	ListSchedulableChats(ctx context.Context) ([]string, error)
}

// Ticker advances one chat. *engine.Engine implements it.
type Ticker interface {
	Tick(ctx context.Context, chatID string) (engine.Result, error)
}

// RunLog records sweeps. It is optional.
type RunLog interface {
	StartSweepRun(ctx context.Context, startedAt time.Time) (string, error)
	FinishSweepRun(ctx context.Context, id string, finishedAt time.Time, report models.SweepReport) error
}

// Config bounds one sweep.
type Config struct {
	Workers      int
	SweepTimeout time.Duration
	ChatTimeout  time.Duration
}

// Sweeper runs the engine over every schedulable chat.
type Sweeper struct {
	chats  ChatLister
	engine Ticker
	runs   RunLog
	cfg    Config
	clock  func() time.Time
}

// New creates a Sweeper. runs may be nil.
func New(chats ChatLister, eng Ticker, runs RunLog, cfg Config) *Sweeper {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Sweeper{chats: chats, engine: eng, runs: runs, cfg: cfg, clock: time.Now}
}

// tally accumulates per-chat results from the worker goroutines.
type tally struct {
	mu     sync.Mutex
	report models.SweepReport
}

func (t *tally) add(chatID string, res engine.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if res.Checked {
		t.report.RoundsChecked++
	}
	switch {
	case res.Action == engine.ActionAutoStarted:
		t.report.AutoStarted++
	case res.Action == engine.ActionTimerExtended:
		t.report.TimersExtended++
	case res.Action.Advanced():
		t.report.PhasesAdvanced++
	}
	if err != nil {
		t.report.Errors = append(t.report.Errors, fmt.Sprintf("chat %s: %v", chatID, err))
	}
}

// Sweep ticks every chat with a current round once. Failures are reported
// per chat and never stop the rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) models.SweepReport {
	started := s.clock()
	runID := s.startRun(ctx, started)

	if s.cfg.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SweepTimeout)
		defer cancel()
	}

	t := &tally{report: models.SweepReport{Errors: []string{}}}

	chatIDs, err := s.chats.ListSchedulableChats(ctx)
	if err != nil {
		t.report.Errors = append(t.report.Errors, fmt.Sprintf("list chats: %v", err))
		s.finishRun(runID, t.report)
		return t.report
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, chatID := range chatIDs {
		if ctx.Err() != nil {
			t.add(chatID, engine.Result{}, fmt.Errorf("not processed: %w", ctx.Err()))
			continue
		}
		g.Go(func() error {
			res, err := s.tickChat(ctx, chatID)
			t.add(chatID, res, err)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(t.report.Errors)

	slog.Info("sweep finished",
		"chats", len(chatIDs),
		"checked", t.report.RoundsChecked,
		"advanced", t.report.PhasesAdvanced,
		"extended", t.report.TimersExtended,
		"auto_started", t.report.AutoStarted,
		"errors", len(t.report.Errors),
		"duration", s.clock().Sub(started))

	s.finishRun(runID, t.report)
	return t.report
}

// tickChat runs one chat under its own deadline. A panic becomes an error
// for this chat only.
func (s *Sweeper) tickChat(ctx context.Context, chatID string) (res engine.Result, err error) {
	if ctx.Err() != nil {
		return engine.Result{ChatID: chatID}, fmt.Errorf("not processed: %w", ctx.Err())
	}

	if s.cfg.ChatTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ChatTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("chat tick panicked", "chat_id", chatID, "panic", r, "stack", string(debug.Stack()))
			res = engine.Result{ChatID: chatID}
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	res, err = s.engine.Tick(ctx, chatID)
	if err != nil && !errors.Is(err, engine.ErrInvariant) {
		slog.Warn("chat tick failed", "chat_id", chatID, "error", err)
	}
	return res, err
}

// A failing run log is logged and otherwise ignored.
func (s *Sweeper) startRun(ctx context.Context, started time.Time) string {
	if s.runs == nil {
		return ""
	}
	id, err := s.runs.StartSweepRun(ctx, started)
	if err != nil {
		slog.Warn("failed to record sweep start", "error", err)
		return ""
	}
	return id
}

func (s *Sweeper) finishRun(id string, report models.SweepReport) {
	if s.runs == nil || id == "" {
		return
	}
	// The sweep context may already be past its deadline
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runs.FinishSweepRun(ctx, id, s.clock(), report); err != nil {
		slog.Warn("failed to record sweep finish", "run_id", id, "error", err)
	}
}

// Run sweeps on every tick of interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("sweep interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("periodic sweep started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("periodic sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
