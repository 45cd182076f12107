// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package engine implements the round and phase state machine that drives a
chat from waiting through proposing and rating to round completion, and on
to either the next round or a completed cycle.

# Ticks

Tick loads a Snapshot of one chat, decides on at most one step, and writes
it through the Store:

  - waiting: auto-start when the chat is in auto mode and enough
    participants are active
  - proposing: end early once the threshold and proposing minimum are met,
    or at the deadline if the minimum is met; otherwise extend the deadline
  - rating: the same with the rating-capped threshold and rating minimum;
    completing a round scores it, runs the consensus check, and either
    completes the cycle or opens the next round

# Concurrency

Every write is conditional on the phase that was read. A Store reports a
lost race with ErrStaleTransition, which Tick turns into a no-op result
with RaceLost set. Scoring of a round is coalesced in-process with
singleflight, and a Scorer must be idempotent across processes.
*/
package engine
