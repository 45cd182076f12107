// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the converge API.

# Handler Types

Each handler is a struct with database and config dependencies:

  - ChatHandler: chat creation, host views, round release and new cycles
  - ParticipantHandler: joining, leaving and kicking
  - PropositionHandler: proposition submission and proposing skips
  - RatingHandler: rating submission
  - ResultsHandler: completed rounds and cycle winners
  - TimerHandler: the authenticated sweep trigger
  - HealthHandler: deployment checks

Handlers are created via constructor functions:

	chatHandler := handlers.NewChatHandler(db, cfg, eng)

# Credentials

Host operations require the X-Host-Key header, an HMAC of the chat ID.
Participant operations require the X-Participant-Token header returned when
joining; only a salted hash of it is stored. Kicked and departed
participants no longer authenticate.

# Phase Gating

Propositions and skips are accepted only while the current round is
proposing, ratings only while it is rating. Phase changes themselves are
never made here except by StartRound; the engine owns them and the
scheduler drives it through POST /process-timers.

# Ratings

A submission maps proposition IDs to scores from 0 to 100. With two or more
entries one score must be 0 and one must be 100. Resubmitting replaces the
earlier score for the same proposition.
*/
package handlers
