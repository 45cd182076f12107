// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db handles database schema creation.

# Schema Creation

CreateSchema initializes all required tables:

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.
The DDL is plain enough to run unchanged on PostgreSQL and SQLite.

# Tables

  - chat: deliberation settings, invite code
  - cycle: one consensus-seeking run per chat
  - round: proposing and rating pass, phase and deadline
  - participant: members with their token and status
  - proposition: statements, including ones carried from a prior round
  - rating: one 0-100 score per participant per proposition
  - round_skip: participants who skipped proposing
  - round_winner: top-ranked propositions of a completed round
  - sweep_run: log of scheduler sweeps

# Relationships

	chat 1──* cycle 1──* round
	chat 1──* participant
	round 1──* proposition 1──* rating
	round 1──* round_skip
	round 1──* round_winner

All foreign keys use ON DELETE CASCADE, except proposition.participant_id
which is cleared when a participant row goes away.
*/
package db
