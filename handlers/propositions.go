// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/converge/auth"
	"github.com/danielhkuo/converge/cliparse"
	"github.com/danielhkuo/converge/middleware"
	"github.com/danielhkuo/converge/models"
	"github.com/danielhkuo/converge/store"
	"github.com/danielhkuo/converge/threshold"
)

// MaxPropositionLength bounds a proposition's content in bytes
const MaxPropositionLength = 1000

type PropositionHandler struct {
	db    *sql.DB
	cfg   cliparse.Config
	store *store.SQLStore
}

func NewPropositionHandler(db *sql.DB, cfg cliparse.Config) *PropositionHandler {
	return &PropositionHandler{db: db, cfg: cfg, store: store.New(db)}
}

// proposingRound loads the chat and writes 409 unless its round is proposing.
func (h *PropositionHandler) proposingRound(w http.ResponseWriter, r *http.Request, chatID string) (models.ChatState, bool) {
	state, ok := loadState(w, r, h.store, chatID)
	if !ok {
		return state, false
	}
	if state.Round == nil || state.Round.Phase != models.PhaseProposing {
		middleware.ErrorResponse(w, http.StatusConflict, "Round is not accepting propositions")
		return state, false
	}
	return state, true
}

// claimProposing writes 409 when the round left proposing after it was loaded.
func claimProposing(w http.ResponseWriter, r *http.Request, tx *sql.Tx, roundID string) bool {
	ok, err := claimRound(r.Context(), tx, roundID, models.PhaseProposing)
	if err != nil {
		slog.Error("failed to claim round", "error", err, "round_id", roundID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return false
	}
	if !ok {
		middleware.ErrorResponse(w, http.StatusConflict, "Round is not accepting propositions")
		return false
	}
	return true
}

func countOwnPropositions(tx *sql.Tx, roundID, participantID string) (int, error) {
	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM proposition
		WHERE round_id = $1 AND participant_id = $2 AND carried_from_id IS NULL
	`, roundID, participantID).Scan(&n)
	return n, err
}

// SubmitProposition handles POST /chats/{id}/propositions
func (h *PropositionHandler) SubmitProposition(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	p, ok := authParticipant(w, r, h.db, h.cfg, chatID)
	if !ok {
		return
	}

	var req models.SubmitPropositionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" || len(content) > MaxPropositionLength {
		middleware.ErrorResponse(w, http.StatusBadRequest, "content must be 1-1000 characters")
		return
	}

	state, ok := h.proposingRound(w, r, chatID)
	if !ok {
		return
	}
	roundID := state.Round.ID

	propositionID, err := auth.GenerateID(12)
	if err != nil {
		slog.Error("failed to generate proposition ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to submit proposition")
		return
	}

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	if !claimProposing(w, r, tx, roundID) {
		return
	}

	var skipped int
	if err := tx.QueryRow(`
		SELECT COUNT(*) FROM round_skip WHERE round_id = $1 AND participant_id = $2
	`, roundID, p.ID).Scan(&skipped); err != nil {
		slog.Error("failed to check skip", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if skipped > 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Already skipped this round")
		return
	}

	// Carried-forward copies do not use up the allowance
	submitted, err := countOwnPropositions(tx, roundID, p.ID)
	if err != nil {
		slog.Error("failed to count propositions", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	limit := state.Chat.PropositionsPerUser
	if submitted >= limit {
		middleware.ErrorResponse(w, http.StatusConflict, "Proposition limit reached for this round")
		return
	}

	if _, err := tx.Exec(`
		INSERT INTO proposition (id, round_id, participant_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, propositionID, roundID, p.ID, content, time.Now().UTC()); err != nil {
		slog.Error("failed to insert proposition", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to submit proposition")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to submit proposition")
		return
	}

	slog.Info("proposition submitted", "chat_id", chatID, "round_id", roundID, "proposition_id", propositionID)

	middleware.JSONResponse(w, http.StatusCreated, models.SubmitPropositionResponse{
		PropositionID: propositionID,
		Remaining:     limit - submitted - 1,
	})
}

// SkipProposing handles POST /chats/{id}/skip
func (h *PropositionHandler) SkipProposing(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	p, ok := authParticipant(w, r, h.db, h.cfg, chatID)
	if !ok {
		return
	}

	state, ok := h.proposingRound(w, r, chatID)
	if !ok {
		return
	}
	roundID := state.Round.ID

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	if !claimProposing(w, r, tx, roundID) {
		return
	}

	submitted, err := countOwnPropositions(tx, roundID, p.ID)
	if err != nil {
		slog.Error("failed to count propositions", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if submitted > 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Already proposed in this round")
		return
	}

	// Skips are counted under the claim so concurrent skips cannot overrun the cap
	var skips int
	if err := tx.QueryRow(`
		SELECT COUNT(*)
		FROM round_skip k
		JOIN participant pa ON k.participant_id = pa.id
		WHERE k.round_id = $1 AND pa.status = $2
	`, roundID, models.StatusActive).Scan(&skips); err != nil {
		slog.Error("failed to count skips", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	remaining := threshold.RemainingSkips(state.ActiveParticipants, skips, state.Chat.ProposingMinimum)
	if remaining <= 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "No more skips allowed in this round")
		return
	}

	_, err = tx.Exec(`
		INSERT INTO round_skip (round_id, participant_id, created_at) VALUES ($1, $2, $3)
	`, roundID, p.ID, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			middleware.ErrorResponse(w, http.StatusConflict, "Already skipped this round")
			return
		}
		slog.Error("failed to insert skip", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to skip")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to skip")
		return
	}

	slog.Info("proposing skipped", "chat_id", chatID, "round_id", roundID, "participant_id", p.ID)

	middleware.JSONResponse(w, http.StatusCreated, models.SkipResponse{
		Skipped:        true,
		RemainingSkips: remaining - 1,
	})
}
