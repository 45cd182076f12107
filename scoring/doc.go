// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package scoring picks round winners with Balanced Majority Judgment.

# Algorithm

Each 0..100 rating is mapped onto [-1, 1] as 2*(score/100)-1. For every
proposition the scorer computes the median, p10, p90, mean and the share of
negative scores. A proposition with neg_share >= 0.33 and median <= 0 is
softly vetoed and ranks below every non-vetoed one.

Ranking is lexicographic: veto, median, p10, p90, mean, then proposition ID
for a stable order. Propositions whose stats all match the leader within
0.001 share the top spot; only a lone leader is a sole winner.

A round with propositions but no ratings is won outright by the oldest
proposition. A round without propositions has no winner.

# Idempotency

BMJScorer only reads. Winners already recorded for a round are returned
unchanged, so a retried or concurrent completion sees the same result.
*/
package scoring
