// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package adaptive

import (
	"math"

	"github.com/danielhkuo/converge/models"
)

// Outcome is how the previous occurrence of a phase ended.
type Outcome int

const (
	// RanFullDuration means the phase hit its deadline without meeting thresholds.
	RanFullDuration Outcome = iota
	// EndedEarly means auto-advance fired before the deadline.
	EndedEarly
)

func (o Outcome) String() string {
	if o == EndedEarly {
		return "ended_early"
	}
	return "ran_full_duration"
}

// OutcomeFor maps an early-advance flag to an Outcome.
func OutcomeFor(endedEarly bool) Outcome {
	if endedEarly {
		return EndedEarly
	}
	return RanFullDuration
}

// Settings are a chat's adaptive duration options, in whole seconds.
type Settings struct {
	Enabled           bool
	AdjustmentPercent int
	MinSeconds        int
	MaxSeconds        int
}

// FromChat reads the adaptive settings off a chat.
func FromChat(chat models.Chat) Settings {
	return Settings{
		Enabled:           chat.AdaptiveDurationEnabled,
		AdjustmentPercent: chat.AdaptiveAdjustmentPercent,
		MinSeconds:        chat.MinPhaseDurationSeconds,
		MaxSeconds:        chat.MaxPhaseDurationSeconds,
	}
}

// Active reports whether the settings are usable. Malformed bounds or a
// non-positive adjustment disable the controller. A zero minimum is valid.
func (s Settings) Active() bool {
	return s.Enabled &&
		s.AdjustmentPercent > 0 &&
		s.MinSeconds >= 0 &&
		s.MaxSeconds > 0 &&
		s.MinSeconds <= s.MaxSeconds
}

// Clamp bounds v to [MinSeconds, MaxSeconds]. A phase always lasts at least
// one second, so a zero minimum floors at 1.
func Clamp(s Settings, v int) int {
	return max(1, s.MinSeconds, min(s.MaxSeconds, v))
}

// Next returns the duration for the next occurrence of a phase.
//
// nominal is the chat's configured duration, current the duration the
// previous occurrence ran with. A phase that ended early shrinks by
// AdjustmentPercent of current, one that ran its full window grows by the
// same step. Each step moves at least one second, and the result never
// leaves [MinSeconds, MaxSeconds]. When the controller is inactive, nominal
// is returned unchanged.
func Next(s Settings, nominal, current int, outcome Outcome) int {
	if !s.Active() {
		return nominal
	}
	if current <= 0 {
		current = nominal
	}
	current = Clamp(s, current)

	step := int(math.Round(float64(current) * float64(s.AdjustmentPercent) / 100))
	if step < 1 {
		step = 1
	}

	if outcome == EndedEarly {
		return Clamp(s, current-step)
	}
	return Clamp(s, current+step)
}

// Initial returns the duration for the first occurrence of a phase in a cycle.
func Initial(s Settings, nominal int) int {
	if !s.Active() {
		return nominal
	}
	return Clamp(s, nominal)
}
