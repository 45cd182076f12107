// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Phase is the sub-stage a round is in.
type Phase string

// Round phase constants
const (
	PhaseWaiting   Phase = "waiting"
	PhaseProposing Phase = "proposing"
	PhaseRating    Phase = "rating"
	PhaseCompleted Phase = "completed"
)

// Mode controls whether a phase starts on its own or waits for the host.
type Mode string

// Start mode constants
const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

// Participant status constants
const (
	StatusActive = "active"
	StatusKicked = "kicked"
	StatusLeft   = "left"
)

// Sweep run status constants
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunPartial = "partial"
)

// Score bounds for a single rating
const (
	MinScore = 0
	MaxScore = 100
)

// Domain types

// ThresholdConfig is a percent/count pair for early advance. Nil means unset.
type ThresholdConfig struct {
	Percent *int `json:"percent"`
	Count   *int `json:"count"`
}

type Chat struct {
	ID                        string          `json:"id"`
	Name                      string          `json:"name"`
	ProposingDurationSeconds  int             `json:"proposing_duration_seconds"`
	RatingDurationSeconds     int             `json:"rating_duration_seconds"`
	PropositionsPerUser       int             `json:"propositions_per_user"`
	ConfirmationRounds        int             `json:"confirmation_rounds"`
	ProposingMinimum          int             `json:"proposing_minimum"`
	RatingMinimum             int             `json:"rating_minimum"`
	ProposingThreshold        ThresholdConfig `json:"proposing_threshold"`
	RatingThreshold           ThresholdConfig `json:"rating_threshold"`
	StartMode                 Mode            `json:"start_mode"`
	RatingStartMode           Mode            `json:"rating_start_mode"`
	AutoStartParticipantCount int             `json:"auto_start_participant_count"`
	AdaptiveDurationEnabled   bool            `json:"adaptive_duration_enabled"`
	AdaptiveAdjustmentPercent int             `json:"adaptive_adjustment_percent"`
	MinPhaseDurationSeconds   int             `json:"min_phase_duration_seconds"`
	MaxPhaseDurationSeconds   int             `json:"max_phase_duration_seconds"`
	InviteCode                string          `json:"invite_code,omitempty"`
	CreatedAt                 time.Time       `json:"created_at"`
}

type Cycle struct {
	ID                   string     `json:"id"`
	ChatID               string     `json:"chat_id"`
	WinningPropositionID *string    `json:"winning_proposition_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// IsOpen reports whether the cycle is still seeking consensus.
func (c *Cycle) IsOpen() bool {
	return c.CompletedAt == nil
}

type Round struct {
	ID                       string     `json:"id"`
	CycleID                  string     `json:"cycle_id"`
	SequenceNumber           int        `json:"sequence_number"`
	Phase                    Phase      `json:"phase"`
	PhaseStartedAt           *time.Time `json:"phase_started_at,omitempty"`
	PhaseEndsAt              *time.Time `json:"phase_ends_at,omitempty"`
	CompletedAt              *time.Time `json:"completed_at,omitempty"`
	ProposingDurationSeconds int        `json:"proposing_duration_seconds"`
	RatingDurationSeconds    int        `json:"rating_duration_seconds"`
	ProposingEndedAt         *time.Time `json:"proposing_ended_at,omitempty"`
	ProposingEndedEarly      *bool      `json:"proposing_ended_early,omitempty"`
	RatingEndedEarly         *bool      `json:"rating_ended_early,omitempty"`
}

// IsCurrent reports whether the round has not completed yet.
func (r *Round) IsCurrent() bool {
	return r.CompletedAt == nil
}

// AwaitingRatingRelease reports whether a waiting round has already been
// through proposing and is held for the host to open rating.
func (r *Round) AwaitingRatingRelease() bool {
	return r.Phase == PhaseWaiting && r.ProposingEndedAt != nil
}

type Participant struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	DisplayName string    `json:"display_name"`
	TokenHash   string    `json:"-"` // Never expose in JSON
	Status      string    `json:"status"`
	IsHost      bool      `json:"is_host"`
	CreatedAt   time.Time `json:"created_at"`
}

type Proposition struct {
	ID            string    `json:"id"`
	RoundID       string    `json:"round_id"`
	ParticipantID *string   `json:"participant_id,omitempty"` // nil for machine-authored
	CarriedFromID *string   `json:"carried_from_id,omitempty"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

type Rating struct {
	ParticipantID string    `json:"participant_id"`
	PropositionID string    `json:"proposition_id"`
	RoundID       string    `json:"round_id"`
	Score         int       `json:"score"`
	CreatedAt     time.Time `json:"created_at"`
}

type RoundSkip struct {
	RoundID       string    `json:"round_id"`
	ParticipantID string    `json:"participant_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// RoundWinner is one top-ranked proposition of a completed round.
type RoundWinner struct {
	RoundID       string  `json:"round_id"`
	PropositionID string  `json:"proposition_id"`
	OriginID      string  `json:"origin_id,omitempty"` // first round's copy when carried forward
	GlobalScore   float64 `json:"global_score"`
	IsSoleWinner  bool    `json:"is_sole_winner"`
}

// Lineage identifies the statement across carried-forward copies.
func (w RoundWinner) Lineage() string {
	if w.OriginID != "" {
		return w.OriginID
	}
	return w.PropositionID
}

// SweepReport is returned by every scheduler sweep
type SweepReport struct {
	RoundsChecked  int      `json:"rounds_checked"`
	PhasesAdvanced int      `json:"phases_advanced"`
	TimersExtended int      `json:"timers_extended"`
	AutoStarted    int      `json:"auto_started"`
	Errors         []string `json:"errors"`
}

type SweepRun struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Status     string       `json:"status"`
	Report     *SweepReport `json:"report,omitempty"`
}

// Request types

type CreateChatRequest struct {
	Name                      string          `json:"name"`
	HostName                  string          `json:"host_name"`
	ProposingDurationSeconds  *int            `json:"proposing_duration_seconds"`
	RatingDurationSeconds     *int            `json:"rating_duration_seconds"`
	PropositionsPerUser       *int            `json:"propositions_per_user"`
	ConfirmationRounds        *int            `json:"confirmation_rounds"`
	ProposingMinimum          *int            `json:"proposing_minimum"`
	RatingMinimum             *int            `json:"rating_minimum"`
	ProposingThreshold        ThresholdConfig `json:"proposing_threshold"`
	RatingThreshold           ThresholdConfig `json:"rating_threshold"`
	StartMode                 Mode            `json:"start_mode"`
	RatingStartMode           Mode            `json:"rating_start_mode"`
	AutoStartParticipantCount *int            `json:"auto_start_participant_count"`
	AdaptiveDurationEnabled   bool            `json:"adaptive_duration_enabled"`
	AdaptiveAdjustmentPercent *int            `json:"adaptive_adjustment_percent"`
	MinPhaseDurationSeconds   *int            `json:"min_phase_duration_seconds"`
	MaxPhaseDurationSeconds   *int            `json:"max_phase_duration_seconds"`
}

type JoinChatRequest struct {
	DisplayName string `json:"display_name"`
}

type SubmitPropositionRequest struct {
	Content string `json:"content"`
}

// proposition_id -> score (0 to 100)
type SubmitRatingsRequest struct {
	Ratings map[string]int `json:"ratings"`
}

// Response types

type CreateChatResponse struct {
	ChatID           string `json:"chat_id"`
	HostKey          string `json:"host_key"`
	InviteCode       string `json:"invite_code"`
	ParticipantID    string `json:"participant_id"`
	ParticipantToken string `json:"participant_token"`
}

type JoinChatResponse struct {
	ChatID           string `json:"chat_id"`
	ParticipantID    string `json:"participant_id"`
	ParticipantToken string `json:"participant_token"`
}

type SubmitPropositionResponse struct {
	PropositionID string `json:"proposition_id"`
	Remaining     int    `json:"remaining"`
}

type SkipResponse struct {
	Skipped        bool `json:"skipped"`
	RemainingSkips int  `json:"remaining_skips"`
}

type SubmitRatingsResponse struct {
	Count   int    `json:"count"`
	Message string `json:"message"`
}

type StartRoundResponse struct {
	RoundID     string     `json:"round_id"`
	Phase       Phase      `json:"phase"`
	PhaseEndsAt *time.Time `json:"phase_ends_at,omitempty"`
}

type StartCycleResponse struct {
	CycleID string `json:"cycle_id"`
	RoundID string `json:"round_id"`
}

// ChatState is the public view of a chat's current progress
type ChatState struct {
	Chat               Chat   `json:"chat"`
	Cycle              *Cycle `json:"cycle,omitempty"`
	Round              *Round `json:"round,omitempty"`
	ActiveParticipants int    `json:"active_participants"`
	PropositionCount   int    `json:"proposition_count"`
	SkipCount          int    `json:"skip_count"`
	RaterCount         int    `json:"rater_count"`
}

type RoundResult struct {
	Round   Round         `json:"round"`
	Winners []RoundWinner `json:"winners"`
}

type CycleResult struct {
	Cycle  Cycle         `json:"cycle"`
	Rounds []RoundResult `json:"rounds"`
}

type ResultsResponse struct {
	ChatID string        `json:"chat_id"`
	Cycles []CycleResult `json:"cycles"`
}

type HealthCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Message   string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Checks    map[string]HealthCheck `json:"checks"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
