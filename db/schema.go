// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	// One statement per Exec; not every driver accepts a batch
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// Tables lists every table in dependency order, parents first.
var Tables = []string{
	"chat",
	"cycle",
	"round",
	"participant",
	"proposition",
	"rating",
	"round_skip",
	"round_winner",
	"sweep_run",
}

const schema = `
-- Chats
CREATE TABLE IF NOT EXISTS chat (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    invite_code TEXT UNIQUE,
    proposing_duration_seconds INTEGER NOT NULL,
    rating_duration_seconds INTEGER NOT NULL,
    propositions_per_user INTEGER NOT NULL DEFAULT 1,
    confirmation_rounds INTEGER NOT NULL DEFAULT 2,
    proposing_minimum INTEGER NOT NULL DEFAULT 1,
    rating_minimum INTEGER NOT NULL DEFAULT 0,
    proposing_threshold_percent INTEGER,
    proposing_threshold_count INTEGER,
    rating_threshold_percent INTEGER,
    rating_threshold_count INTEGER,
    start_mode TEXT NOT NULL DEFAULT 'manual' CHECK (start_mode IN ('manual', 'auto')),
    rating_start_mode TEXT NOT NULL DEFAULT 'auto' CHECK (rating_start_mode IN ('manual', 'auto')),
    auto_start_participant_count INTEGER NOT NULL DEFAULT 3,
    adaptive_duration_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    adaptive_adjustment_percent INTEGER NOT NULL DEFAULT 10,
    min_phase_duration_seconds INTEGER NOT NULL DEFAULT 60,
    max_phase_duration_seconds INTEGER NOT NULL DEFAULT 86400,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_invite_code ON chat(invite_code);

-- Cycles
CREATE TABLE IF NOT EXISTS cycle (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL REFERENCES chat(id) ON DELETE CASCADE,
    winning_proposition_id TEXT,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cycle_chat_id ON cycle(chat_id);

-- Rounds
CREATE TABLE IF NOT EXISTS round (
    id TEXT PRIMARY KEY,
    cycle_id TEXT NOT NULL REFERENCES cycle(id) ON DELETE CASCADE,
    sequence_number INTEGER NOT NULL,
    phase TEXT NOT NULL CHECK (phase IN ('waiting', 'proposing', 'rating', 'completed')),
    phase_started_at TIMESTAMP,
    phase_ends_at TIMESTAMP,
    completed_at TIMESTAMP,
    proposing_duration_seconds INTEGER NOT NULL DEFAULT 0,
    rating_duration_seconds INTEGER NOT NULL DEFAULT 0,
    proposing_ended_at TIMESTAMP,
    proposing_ended_early BOOLEAN,
    rating_ended_early BOOLEAN,
    UNIQUE (cycle_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_round_cycle_id ON round(cycle_id);
CREATE INDEX IF NOT EXISTS idx_round_open ON round(completed_at);

-- Participants
CREATE TABLE IF NOT EXISTS participant (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL REFERENCES chat(id) ON DELETE CASCADE,
    display_name TEXT NOT NULL,
    token TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'kicked', 'left')),
    is_host BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (chat_id, display_name)
);

CREATE INDEX IF NOT EXISTS idx_participant_chat_id ON participant(chat_id);

-- Propositions
CREATE TABLE IF NOT EXISTS proposition (
    id TEXT PRIMARY KEY,
    round_id TEXT NOT NULL REFERENCES round(id) ON DELETE CASCADE,
    participant_id TEXT REFERENCES participant(id) ON DELETE SET NULL,
    carried_from_id TEXT,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_proposition_round_id ON proposition(round_id);

-- Ratings
CREATE TABLE IF NOT EXISTS rating (
    participant_id TEXT NOT NULL REFERENCES participant(id) ON DELETE CASCADE,
    proposition_id TEXT NOT NULL REFERENCES proposition(id) ON DELETE CASCADE,
    round_id TEXT NOT NULL REFERENCES round(id) ON DELETE CASCADE,
    score INTEGER NOT NULL CHECK (score >= 0 AND score <= 100),
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (participant_id, proposition_id)
);

CREATE INDEX IF NOT EXISTS idx_rating_round_id ON rating(round_id);

-- Proposing skips
CREATE TABLE IF NOT EXISTS round_skip (
    round_id TEXT NOT NULL REFERENCES round(id) ON DELETE CASCADE,
    participant_id TEXT NOT NULL REFERENCES participant(id) ON DELETE CASCADE,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (round_id, participant_id)
);

-- Round winners
CREATE TABLE IF NOT EXISTS round_winner (
    round_id TEXT NOT NULL REFERENCES round(id) ON DELETE CASCADE,
    proposition_id TEXT NOT NULL REFERENCES proposition(id) ON DELETE CASCADE,
    global_score REAL NOT NULL DEFAULT 0,
    is_sole_winner BOOLEAN NOT NULL,
    PRIMARY KEY (round_id, proposition_id)
);

-- Sweep runs
CREATE TABLE IF NOT EXISTS sweep_run (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    status TEXT NOT NULL CHECK (status IN ('running', 'success', 'partial')),
    report TEXT
);

CREATE INDEX IF NOT EXISTS idx_sweep_run_started_at ON sweep_run(started_at)
`
