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
)

type ParticipantHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewParticipantHandler(db *sql.DB, cfg cliparse.Config) *ParticipantHandler {
	return &ParticipantHandler{db: db, cfg: cfg}
}

// JoinChat handles POST /join/{code}
func (h *ParticipantHandler) JoinChat(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "invite code is required")
		return
	}

	var req models.JoinChatRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	name := strings.TrimSpace(req.DisplayName)
	if len(name) < 1 || len(name) > 50 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "display_name must be 1-50 characters")
		return
	}

	var chatID string
	err := h.db.QueryRowContext(r.Context(), `SELECT id FROM chat WHERE invite_code = $1`, code).Scan(&chatID)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		slog.Error("failed to query chat", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	participantID, err := auth.GenerateID(12)
	if err != nil {
		slog.Error("failed to generate participant ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to join chat")
		return
	}
	token, err := auth.GenerateParticipantToken()
	if err != nil {
		slog.Error("failed to generate participant token", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to join chat")
		return
	}
	hash, _ := auth.HashToken(token, h.cfg.HostKeySalt)

	// UNIQUE (chat_id, display_name) rejects a taken name
	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO participant (id, chat_id, display_name, token, status, is_host, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, participantID, chatID, name, hash, models.StatusActive, false, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			middleware.ErrorResponse(w, http.StatusConflict, "Display name already taken")
			return
		}
		slog.Error("failed to insert participant", "error", err, "chat_id", chatID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to join chat")
		return
	}

	slog.Info("participant joined", "chat_id", chatID, "participant_id", participantID)

	middleware.JSONResponse(w, http.StatusCreated, models.JoinChatResponse{
		ChatID:           chatID,
		ParticipantID:    participantID,
		ParticipantToken: token,
	})
}

// LeaveChat handles POST /chats/{id}/leave
func (h *ParticipantHandler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	p, ok := authParticipant(w, r, h.db, h.cfg, chatID)
	if !ok {
		return
	}

	if _, err := h.db.ExecContext(r.Context(), `
		UPDATE participant SET status = $1 WHERE id = $2
	`, models.StatusLeft, p.ID); err != nil {
		slog.Error("failed to leave chat", "error", err, "participant_id", p.ID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to leave chat")
		return
	}

	slog.Info("participant left", "chat_id", chatID, "participant_id", p.ID)
	middleware.JSONResponse(w, http.StatusOK, map[string]string{"status": models.StatusLeft})
}

// KickParticipant handles POST /chats/{id}/participants/{pid}/kick
func (h *ParticipantHandler) KickParticipant(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	participantID := r.PathValue("pid")
	if !requireHost(w, r, h.cfg, chatID) {
		return
	}

	var isHost bool
	err := h.db.QueryRowContext(r.Context(), `
		SELECT is_host FROM participant WHERE id = $1 AND chat_id = $2
	`, participantID, chatID).Scan(&isHost)
	if err == sql.ErrNoRows {
		middleware.ErrorResponse(w, http.StatusNotFound, "Participant not found")
		return
	}
	if err != nil {
		slog.Error("failed to query participant", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if isHost {
		middleware.ErrorResponse(w, http.StatusConflict, "The host cannot be kicked")
		return
	}

	if _, err := h.db.ExecContext(r.Context(), `
		UPDATE participant SET status = $1 WHERE id = $2 AND chat_id = $3
	`, models.StatusKicked, participantID, chatID); err != nil {
		slog.Error("failed to kick participant", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to kick participant")
		return
	}

	slog.Info("participant kicked", "chat_id", chatID, "participant_id", participantID)
	middleware.JSONResponse(w, http.StatusOK, map[string]string{"status": models.StatusKicked})
}
