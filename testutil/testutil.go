// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielhkuo/converge/auth"
	"github.com/danielhkuo/converge/cliparse"
	"github.com/danielhkuo/converge/db"
	"github.com/danielhkuo/converge/models"
	_ "modernc.org/sqlite"
)

var dbCounter atomic.Int64

// SetupTestDB opens a private in-memory SQLite database with the full schema.
// It is closed when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:converge_test_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", dbCounter.Add(1))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// One connection keeps the in-memory database alive and serializes writers
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	if err := db.CreateSchema(conn); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return conn
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:          3318,
		DatabaseURL:   "file::memory:",
		DatabaseType:  "sqlite",
		HostKeySalt:   "test-host-salt",
		InviteSalt:    "test-invite-salt",
		CronSecret:    "test-cron-secret",
		ServiceSecret: "test-service-secret",
		SweepWorkers:  4,
		SweepTimeout:  5 * time.Second,
		ChatTimeout:   time.Second,
		AlignToMinute: false,
	}
}

// TestChatDefaults returns the chat settings fixtures start from
func TestChatDefaults() models.Chat {
	return models.Chat{
		Name:                      "Test Chat",
		ProposingDurationSeconds:  300,
		RatingDurationSeconds:     300,
		PropositionsPerUser:       1,
		ConfirmationRounds:        2,
		ProposingMinimum:          1,
		RatingMinimum:             0,
		StartMode:                 models.ModeManual,
		RatingStartMode:           models.ModeAuto,
		AutoStartParticipantCount: 3,
		AdaptiveAdjustmentPercent: 10,
		MinPhaseDurationSeconds:   60,
		MaxPhaseDurationSeconds:   3600,
	}
}

// Fixture holds the ids and credentials of a chat created for a test
type Fixture struct {
	Chat       models.Chat
	HostKey    string
	CycleID    string
	RoundID    string
	HostID     string
	HostToken  string
	InviteCode string
}

// CreateTestChat inserts a chat with its host, an open cycle and a waiting
// first round. mutate may adjust the settings before insert.
func CreateTestChat(t *testing.T, conn *sql.DB, cfg cliparse.Config, mutate func(*models.Chat)) Fixture {
	t.Helper()

	chat := TestChatDefaults()
	if mutate != nil {
		mutate(&chat)
	}
	chat.ID, _ = auth.GenerateID(16)
	chat.InviteCode = auth.GenerateInviteCode(chat.ID, cfg.InviteSalt)
	chat.CreatedAt = time.Now().UTC()

	_, err := conn.Exec(`
		INSERT INTO chat (
			id, name, invite_code, proposing_duration_seconds, rating_duration_seconds,
			propositions_per_user, confirmation_rounds, proposing_minimum, rating_minimum,
			proposing_threshold_percent, proposing_threshold_count,
			rating_threshold_percent, rating_threshold_count,
			start_mode, rating_start_mode, auto_start_participant_count,
			adaptive_duration_enabled, adaptive_adjustment_percent,
			min_phase_duration_seconds, max_phase_duration_seconds, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, chat.ID, chat.Name, chat.InviteCode, chat.ProposingDurationSeconds, chat.RatingDurationSeconds,
		chat.PropositionsPerUser, chat.ConfirmationRounds, chat.ProposingMinimum, chat.RatingMinimum,
		chat.ProposingThreshold.Percent, chat.ProposingThreshold.Count,
		chat.RatingThreshold.Percent, chat.RatingThreshold.Count,
		string(chat.StartMode), string(chat.RatingStartMode), chat.AutoStartParticipantCount,
		chat.AdaptiveDurationEnabled, chat.AdaptiveAdjustmentPercent,
		chat.MinPhaseDurationSeconds, chat.MaxPhaseDurationSeconds, chat.CreatedAt)
	if err != nil {
		t.Fatalf("Failed to create test chat: %v", err)
	}

	hostID, hostToken := addParticipant(t, conn, cfg, chat.ID, "Host", true)

	cycleID, _ := auth.GenerateID(16)
	if _, err := conn.Exec(`
		INSERT INTO cycle (id, chat_id, created_at) VALUES ($1, $2, $3)
	`, cycleID, chat.ID, chat.CreatedAt); err != nil {
		t.Fatalf("Failed to create test cycle: %v", err)
	}

	roundID := AddTestRound(t, conn, cycleID, 1, models.PhaseWaiting, nil)

	return Fixture{
		Chat:       chat,
		HostKey:    auth.GenerateHostKey(chat.ID, cfg.HostKeySalt),
		CycleID:    cycleID,
		RoundID:    roundID,
		HostID:     hostID,
		HostToken:  hostToken,
		InviteCode: chat.InviteCode,
	}
}

// AddTestRound inserts a round in the given phase and returns its ID
func AddTestRound(t *testing.T, conn *sql.DB, cycleID string, seq int, phase models.Phase, endsAt *time.Time) string {
	t.Helper()

	roundID, _ := auth.GenerateID(16)
	var startedAt *time.Time
	if phase != models.PhaseWaiting {
		now := time.Now().UTC()
		startedAt = &now
	}
	_, err := conn.Exec(`
		INSERT INTO round (id, cycle_id, sequence_number, phase, phase_started_at, phase_ends_at,
			proposing_duration_seconds, rating_duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, 300, 300)
	`, roundID, cycleID, seq, string(phase), startedAt, endsAt)
	if err != nil {
		t.Fatalf("Failed to create test round: %v", err)
	}
	return roundID
}

// SetRoundPhase forces a round into a phase with the given deadline
func SetRoundPhase(t *testing.T, conn *sql.DB, roundID string, phase models.Phase, endsAt *time.Time) {
	t.Helper()

	now := time.Now().UTC()
	_, err := conn.Exec(`
		UPDATE round SET phase = $1, phase_started_at = $2, phase_ends_at = $3 WHERE id = $4
	`, string(phase), now, endsAt, roundID)
	if err != nil {
		t.Fatalf("Failed to set round phase: %v", err)
	}
}

func addParticipant(t *testing.T, conn *sql.DB, cfg cliparse.Config, chatID, name string, host bool) (string, string) {
	t.Helper()

	id, _ := auth.GenerateID(12)
	token, _ := auth.GenerateParticipantToken()
	hash, _ := auth.HashToken(token, cfg.HostKeySalt)
	_, err := conn.Exec(`
		INSERT INTO participant (id, chat_id, display_name, token, status, is_host, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, chatID, name, hash, models.StatusActive, host, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test participant: %v", err)
	}
	return id, token
}

// AddTestParticipant adds an active participant and returns its ID and token
func AddTestParticipant(t *testing.T, conn *sql.DB, cfg cliparse.Config, chatID, name string) (string, string) {
	t.Helper()
	return addParticipant(t, conn, cfg, chatID, name, false)
}

// SetParticipantStatus changes a participant's status
func SetParticipantStatus(t *testing.T, conn *sql.DB, participantID, status string) {
	t.Helper()
	if _, err := conn.Exec(`UPDATE participant SET status = $1 WHERE id = $2`, status, participantID); err != nil {
		t.Fatalf("Failed to set participant status: %v", err)
	}
}

// AddTestProposition adds a proposition authored by participantID
func AddTestProposition(t *testing.T, conn *sql.DB, roundID, participantID, content string) string {
	t.Helper()

	id, _ := auth.GenerateID(12)
	_, err := conn.Exec(`
		INSERT INTO proposition (id, round_id, participant_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, roundID, participantID, content, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test proposition: %v", err)
	}
	return id
}

// AddTestRating records one participant's score for a proposition
func AddTestRating(t *testing.T, conn *sql.DB, roundID, participantID, propositionID string, score int) {
	t.Helper()

	_, err := conn.Exec(`
		INSERT INTO rating (participant_id, proposition_id, round_id, score, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, participantID, propositionID, roundID, score, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test rating: %v", err)
	}
}

// AddTestSkip records a proposing skip
func AddTestSkip(t *testing.T, conn *sql.DB, roundID, participantID string) {
	t.Helper()

	_, err := conn.Exec(`
		INSERT INTO round_skip (round_id, participant_id, created_at) VALUES ($1, $2, $3)
	`, roundID, participantID, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to create test skip: %v", err)
	}
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}
