// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/converge/cliparse"
	"github.com/danielhkuo/converge/middleware"
	"github.com/danielhkuo/converge/models"
	"github.com/danielhkuo/converge/store"
)

type RatingHandler struct {
	db    *sql.DB
	cfg   cliparse.Config
	store *store.SQLStore
}

func NewRatingHandler(db *sql.DB, cfg cliparse.Config) *RatingHandler {
	return &RatingHandler{db: db, cfg: cfg, store: store.New(db)}
}

// validateScores checks the range of every score and, for two or more
// ratings, that the submission anchors both ends of the scale.
func validateScores(ratings map[string]int) error {
	if len(ratings) == 0 {
		return errors.New("ratings cannot be empty")
	}
	hasMin, hasMax := false, false
	for id, score := range ratings {
		if score < models.MinScore || score > models.MaxScore {
			return fmt.Errorf("score for %s must be between %d and %d", id, models.MinScore, models.MaxScore)
		}
		hasMin = hasMin || score == models.MinScore
		hasMax = hasMax || score == models.MaxScore
	}
	if len(ratings) >= 2 && (!hasMin || !hasMax) {
		return fmt.Errorf("with two or more ratings one must be %d and one %d", models.MinScore, models.MaxScore)
	}
	return nil
}

// SubmitRatings handles POST /chats/{id}/ratings
func (h *RatingHandler) SubmitRatings(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	p, ok := authParticipant(w, r, h.db, h.cfg, chatID)
	if !ok {
		return
	}

	var req models.SubmitRatingsRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := validateScores(req.Ratings); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	state, ok := loadState(w, r, h.store, chatID)
	if !ok {
		return
	}
	if state.Round == nil || state.Round.Phase != models.PhaseRating {
		middleware.ErrorResponse(w, http.StatusConflict, "Round is not accepting ratings")
		return
	}
	roundID := state.Round.ID

	// proposition id -> author, for propositions of this round
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, COALESCE(participant_id, '') FROM proposition WHERE round_id = $1
	`, roundID)
	if err != nil {
		slog.Error("failed to query propositions", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	authors := make(map[string]string)
	for rows.Next() {
		var id, author string
		if err := rows.Scan(&id, &author); err != nil {
			rows.Close()
			slog.Error("failed to scan proposition", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
			return
		}
		authors[id] = author
	}
	rows.Close()

	for propositionID := range req.Ratings {
		author, found := authors[propositionID]
		if !found {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid proposition_id: "+propositionID)
			return
		}
		if author == p.ID {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Cannot rate your own proposition")
			return
		}
	}

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	claimed, err := claimRound(r.Context(), tx, roundID, models.PhaseRating)
	if err != nil {
		slog.Error("failed to claim round", "error", err, "round_id", roundID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if !claimed {
		middleware.ErrorResponse(w, http.StatusConflict, "Round is not accepting ratings")
		return
	}

	now := time.Now().UTC()
	for propositionID, score := range req.Ratings {
		// Replace any earlier rating of the same proposition
		if _, err := tx.Exec(`
			DELETE FROM rating WHERE participant_id = $1 AND proposition_id = $2
		`, p.ID, propositionID); err != nil {
			slog.Error("failed to delete old rating", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to save ratings")
			return
		}
		if _, err := tx.Exec(`
			INSERT INTO rating (participant_id, proposition_id, round_id, score, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, propositionID, roundID, score, now); err != nil {
			slog.Error("failed to insert rating", "error", err)
			middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to save ratings")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to save ratings")
		return
	}

	slog.Info("ratings submitted", "chat_id", chatID, "round_id", roundID, "participant_id", p.ID, "count", len(req.Ratings))

	middleware.JSONResponse(w, http.StatusCreated, models.SubmitRatingsResponse{
		Count:   len(req.Ratings),
		Message: "Ratings saved",
	})
}
