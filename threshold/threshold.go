// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package threshold

import (
	"fmt"
	"strings"

	"github.com/danielhkuo/converge/models"
)

// Config holds the early-advance conditions for one phase.
// A nil field is unset; both nil disables early advance.
type Config struct {
	Percent *int
	Count   *int
}

// FromModel converts a chat's stored threshold pair, dropping malformed values.
func FromModel(tc models.ThresholdConfig) Config {
	return Config{Percent: tc.Percent, Count: tc.Count}.normalized()
}

// normalized treats out-of-range settings as unset
func (c Config) normalized() Config {
	out := c
	if out.Percent != nil && (*out.Percent < 0 || *out.Percent > 100) {
		out.Percent = nil
	}
	if out.Count != nil && *out.Count < 0 {
		out.Count = nil
	}
	return out
}

// Disabled reports whether no usable threshold is configured.
func (c Config) Disabled() bool {
	n := c.normalized()
	return n.Percent == nil && n.Count == nil
}

// percentRequired rounds up so a threshold is never met optimistically
func percentRequired(total, percent int) int {
	if total <= 0 || percent <= 0 {
		return 0
	}
	return (total*percent + 99) / 100
}

func (c Config) legs(total int) (percentReq, countReq int) {
	n := c.normalized()
	if n.Percent != nil {
		percentReq = percentRequired(total, *n.Percent)
	}
	if n.Count != nil {
		countReq = *n.Count
	}
	return percentReq, countReq
}

// RequiredCount returns the participation needed to end a phase early: the
// stricter of the percent and count conditions. ok is false when early
// advance is disabled.
func RequiredCount(c Config, totalParticipants int) (required int, ok bool) {
	if c.Disabled() {
		return 0, false
	}
	p, n := c.legs(totalParticipants)
	return max(p, n), true
}

// Advances reports whether participatedCount satisfies the configured threshold.
func Advances(c Config, participatedCount, totalParticipants int) bool {
	required, ok := RequiredCount(c, totalParticipants)
	if !ok {
		return false
	}
	return participatedCount >= required
}

// RatingMaxPossible is the most participation a rating phase can reach:
// nobody rates their own proposition.
func RatingMaxPossible(totalParticipants int) int {
	return max(1, totalParticipants-1)
}

// RatingRequiredCount caps RequiredCount to what a rating phase can achieve.
func RatingRequiredCount(c Config, totalParticipants int) (int, bool) {
	required, ok := RequiredCount(c, totalParticipants)
	if !ok {
		return 0, false
	}
	return min(required, RatingMaxPossible(totalParticipants)), true
}

// AdvancesRating is Advances with the rating cap applied.
func AdvancesRating(c Config, participatedCount, totalParticipants int) bool {
	required, ok := RatingRequiredCount(c, totalParticipants)
	if !ok {
		return false
	}
	return participatedCount >= required
}

// SkipCheck records both legs of a skip-aware proposing check.
type SkipCheck struct {
	PercentRequired int
	EffectiveCount  int
	Participated    int
	PercentMet      bool
	CountMet        bool
}

// AdvancesWithSkips evaluates a proposing phase where some participants
// skipped. Submitters plus skippers must reach the percent requirement
// (computed on the full participant total), and submitters alone must reach
// the count requirement, which shrinks to the number of non-skippers.
func AdvancesWithSkips(c Config, submitterCount, skipCount, totalParticipants int) (bool, SkipCheck) {
	check := SkipCheck{Participated: submitterCount + skipCount}
	if c.Disabled() {
		return false, check
	}

	percentReq, countReq := c.legs(totalParticipants)
	check.PercentRequired = percentReq
	check.EffectiveCount = max(0, min(countReq, totalParticipants-skipCount))
	check.PercentMet = check.Participated >= check.PercentRequired
	check.CountMet = submitterCount >= check.EffectiveCount

	return check.PercentMet && check.CountMet, check
}

// RemainingSkips returns how many more participants may skip proposing while
// still leaving proposingMinimum potential submitters.
func RemainingSkips(totalParticipants, currentSkipCount, proposingMinimum int) int {
	allowed := max(0, totalParticipants-proposingMinimum)
	return max(0, allowed-currentSkipCount)
}

// Explain renders the threshold calculation for logs.
func Explain(c Config, totalParticipants int) string {
	n := c.normalized()
	if n.Percent == nil && n.Count == nil {
		return "auto-advance disabled (no thresholds set)"
	}

	p, cnt := n.legs(totalParticipants)
	var parts []string
	if n.Percent != nil {
		parts = append(parts, fmt.Sprintf("%d%% of %d = %d", *n.Percent, totalParticipants, p))
	}
	if n.Count != nil {
		parts = append(parts, fmt.Sprintf("count threshold = %d", cnt))
	}
	return fmt.Sprintf("MAX(%s) = %d required", strings.Join(parts, ", "), max(p, cnt))
}
