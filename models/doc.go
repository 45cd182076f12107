// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Domain Types

  - Chat: settings for rounds in a chat
  - Cycle: a sequence of rounds ending in consensus
  - Round: one proposing and rating pass, with its phase and deadline
  - Participant, Proposition, Rating, RoundSkip: chat activity
  - RoundWinner: a winning proposition of a completed round. OriginID is set
    when the winner was carried forward; Lineage returns the proposition a
    winner descends from.

# Phases

A round is waiting, proposing, rating or completed:

	PhaseWaiting   = "waiting"
	PhaseProposing = "proposing"
	PhaseRating    = "rating"
	PhaseCompleted = "completed"

A waiting round with ProposingEndedAt set is held for the host to open
rating (see Round.AwaitingRatingRelease).

# Request and Response Types

Types for the JSON API, named after their endpoint:

  - CreateChatRequest / CreateChatResponse
  - JoinChatRequest / JoinChatResponse
  - SubmitPropositionRequest / SubmitPropositionResponse
  - SubmitRatingsRequest / SubmitRatingsResponse
  - SkipResponse, StartRoundResponse, StartCycleResponse
  - ChatState, ResultsResponse, HealthResponse, ErrorResponse

# Sweeps

SweepReport summarizes one scheduler pass; SweepRun is its stored record.
*/
package models
