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

	"github.com/danielhkuo/converge/auth"
	"github.com/danielhkuo/converge/cliparse"
	"github.com/danielhkuo/converge/engine"
	"github.com/danielhkuo/converge/middleware"
	"github.com/danielhkuo/converge/models"
	"github.com/danielhkuo/converge/store"
)

// Chat setting defaults for fields a create request leaves out
const (
	DefaultPhaseDurationSeconds      = 300
	DefaultPropositionsPerUser       = 1
	DefaultConfirmationRounds        = 2
	DefaultProposingMinimum          = 1
	DefaultAutoStartParticipantCount = 3
	DefaultAdaptiveAdjustmentPercent = 10
	DefaultMinPhaseDurationSeconds   = 60
	DefaultMaxPhaseDurationSeconds   = 86400
)

type ChatHandler struct {
	db     *sql.DB
	cfg    cliparse.Config
	store  *store.SQLStore
	engine *engine.Engine
}

func NewChatHandler(db *sql.DB, cfg cliparse.Config, eng *engine.Engine) *ChatHandler {
	return &ChatHandler{db: db, cfg: cfg, store: store.New(db), engine: eng}
}

func orDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// chatFromRequest applies defaults and validates the settings.
func chatFromRequest(req models.CreateChatRequest) (models.Chat, error) {
	chat := models.Chat{
		Name:                      req.Name,
		ProposingDurationSeconds:  orDefault(req.ProposingDurationSeconds, DefaultPhaseDurationSeconds),
		RatingDurationSeconds:     orDefault(req.RatingDurationSeconds, DefaultPhaseDurationSeconds),
		PropositionsPerUser:       orDefault(req.PropositionsPerUser, DefaultPropositionsPerUser),
		ConfirmationRounds:        orDefault(req.ConfirmationRounds, DefaultConfirmationRounds),
		ProposingMinimum:          orDefault(req.ProposingMinimum, DefaultProposingMinimum),
		RatingMinimum:             orDefault(req.RatingMinimum, 0),
		ProposingThreshold:        req.ProposingThreshold,
		RatingThreshold:           req.RatingThreshold,
		StartMode:                 req.StartMode,
		RatingStartMode:           req.RatingStartMode,
		AutoStartParticipantCount: orDefault(req.AutoStartParticipantCount, DefaultAutoStartParticipantCount),
		AdaptiveDurationEnabled:   req.AdaptiveDurationEnabled,
		AdaptiveAdjustmentPercent: orDefault(req.AdaptiveAdjustmentPercent, DefaultAdaptiveAdjustmentPercent),
		MinPhaseDurationSeconds:   orDefault(req.MinPhaseDurationSeconds, DefaultMinPhaseDurationSeconds),
		MaxPhaseDurationSeconds:   orDefault(req.MaxPhaseDurationSeconds, DefaultMaxPhaseDurationSeconds),
	}
	if chat.StartMode == "" {
		chat.StartMode = models.ModeManual
	}
	if chat.RatingStartMode == "" {
		chat.RatingStartMode = models.ModeAuto
	}

	switch {
	case chat.Name == "":
		return chat, errors.New("name is required")
	case len(chat.Name) > 100:
		return chat, errors.New("name must be at most 100 characters")
	case chat.ProposingDurationSeconds < 1 || chat.RatingDurationSeconds < 1:
		return chat, errors.New("phase durations must be positive")
	case chat.PropositionsPerUser < 1:
		return chat, errors.New("propositions_per_user must be at least 1")
	case chat.ConfirmationRounds < 1:
		return chat, errors.New("confirmation_rounds must be at least 1")
	case chat.ProposingMinimum < 0 || chat.RatingMinimum < 0:
		return chat, errors.New("phase minimums cannot be negative")
	case chat.AutoStartParticipantCount < 1:
		return chat, errors.New("auto_start_participant_count must be at least 1")
	case !validMode(chat.StartMode) || !validMode(chat.RatingStartMode):
		return chat, errors.New("start modes must be manual or auto")
	case chat.AdaptiveAdjustmentPercent < 0 || chat.AdaptiveAdjustmentPercent > 100:
		return chat, errors.New("adaptive_adjustment_percent must be between 0 and 100")
	case chat.MaxPhaseDurationSeconds < 1:
		return chat, errors.New("max_phase_duration_seconds must be positive")
	case chat.MinPhaseDurationSeconds < 0 || chat.MinPhaseDurationSeconds > chat.MaxPhaseDurationSeconds:
		return chat, errors.New("min_phase_duration_seconds must be non-negative and not above the maximum")
	}
	if err := validThreshold("proposing_threshold", chat.ProposingThreshold); err != nil {
		return chat, err
	}
	if err := validThreshold("rating_threshold", chat.RatingThreshold); err != nil {
		return chat, err
	}
	return chat, nil
}

func validMode(m models.Mode) bool {
	return m == models.ModeManual || m == models.ModeAuto
}

func validThreshold(name string, t models.ThresholdConfig) error {
	if t.Percent != nil && (*t.Percent < 0 || *t.Percent > 100) {
		return fmt.Errorf("%s.percent must be between 0 and 100", name)
	}
	if t.Count != nil && *t.Count < 0 {
		return fmt.Errorf("%s.count cannot be negative", name)
	}
	return nil
}

// CreateChat handles POST /chats
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChatRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.HostName == "" || len(req.HostName) > 50 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "host_name must be 1-50 characters")
		return
	}
	chat, err := chatFromRequest(req)
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	chat.ID, err = auth.GenerateID(16)
	if err != nil {
		slog.Error("failed to generate chat ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	chat.InviteCode = auth.GenerateInviteCode(chat.ID, h.cfg.InviteSalt)
	chat.CreatedAt = time.Now().UTC()

	hostID, err := auth.GenerateID(12)
	if err != nil {
		slog.Error("failed to generate host participant ID", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	hostToken, err := auth.GenerateParticipantToken()
	if err != nil {
		slog.Error("failed to generate participant token", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	tokenHash, _ := auth.HashToken(hostToken, h.cfg.HostKeySalt)

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
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
		slog.Error("failed to insert chat", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}

	_, err = tx.Exec(`
		INSERT INTO participant (id, chat_id, display_name, token, status, is_host, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, hostID, chat.ID, req.HostName, tokenHash, models.StatusActive, true, chat.CreatedAt)
	if err != nil {
		slog.Error("failed to insert host participant", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}

	if _, _, err := openCycle(tx, chat, chat.CreatedAt); err != nil {
		slog.Error("failed to open first cycle", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}

	slog.Info("chat created", "chat_id", chat.ID, "host", req.HostName, "start_mode", chat.StartMode)

	middleware.JSONResponse(w, http.StatusCreated, models.CreateChatResponse{
		ChatID:           chat.ID,
		HostKey:          auth.GenerateHostKey(chat.ID, h.cfg.HostKeySalt),
		InviteCode:       chat.InviteCode,
		ParticipantID:    hostID,
		ParticipantToken: hostToken,
	})
}

// openCycle inserts a cycle and its waiting first round.
func openCycle(tx *sql.Tx, chat models.Chat, now time.Time) (string, string, error) {
	cycleID, err := auth.GenerateID(16)
	if err != nil {
		return "", "", err
	}
	roundID, err := auth.GenerateID(16)
	if err != nil {
		return "", "", err
	}

	if _, err := tx.Exec(`
		INSERT INTO cycle (id, chat_id, created_at) VALUES ($1, $2, $3)
	`, cycleID, chat.ID, now); err != nil {
		return "", "", fmt.Errorf("failed to insert cycle: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO round (id, cycle_id, sequence_number, phase, proposing_duration_seconds, rating_duration_seconds)
		VALUES ($1, $2, 1, $3, $4, $5)
	`, roundID, cycleID, string(models.PhaseWaiting), chat.ProposingDurationSeconds, chat.RatingDurationSeconds); err != nil {
		return "", "", fmt.Errorf("failed to insert round: %w", err)
	}
	return cycleID, roundID, nil
}

// GetChatAdmin handles GET /chats/{id}/admin
func (h *ChatHandler) GetChatAdmin(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if !requireHost(w, r, h.cfg, chatID) {
		return
	}

	state, ok := loadState(w, r, h.store, chatID)
	if !ok {
		return
	}
	middleware.JSONResponse(w, http.StatusOK, state)
}

// GetChat handles GET /chats/{id}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	state, ok := loadState(w, r, h.store, chatID)
	if !ok {
		return
	}
	// Only the host hands out invites
	state.Chat.InviteCode = ""
	middleware.JSONResponse(w, http.StatusOK, state)
}

// StartRound handles POST /chats/{id}/start
func (h *ChatHandler) StartRound(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if !requireHost(w, r, h.cfg, chatID) {
		return
	}

	res, err := h.engine.Start(r.Context(), chatID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.ErrorResponse(w, http.StatusNotFound, "Chat not found")
		return
	case errors.Is(err, engine.ErrNoOpenRound):
		middleware.ErrorResponse(w, http.StatusConflict, "Chat has no open round")
		return
	case errors.Is(err, engine.ErrNotWaiting):
		middleware.ErrorResponse(w, http.StatusConflict, "Round is not waiting to start")
		return
	case err != nil:
		slog.Error("failed to start round", "error", err, "chat_id", chatID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start round")
		return
	}

	resp := models.StartRoundResponse{RoundID: res.RoundID, Phase: res.To}
	if state, err := h.store.ChatState(r.Context(), chatID); err == nil && state.Round != nil && state.Round.ID == res.RoundID {
		resp.PhaseEndsAt = state.Round.PhaseEndsAt
	}
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// StartCycle handles POST /chats/{id}/cycles
func (h *ChatHandler) StartCycle(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if !requireHost(w, r, h.cfg, chatID) {
		return
	}

	chat, err := h.store.GetChat(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		slog.Error("failed to load chat", "error", err, "chat_id", chatID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	var open int
	if err := tx.QueryRow(`
		SELECT COUNT(*) FROM cycle WHERE chat_id = $1 AND completed_at IS NULL
	`, chatID).Scan(&open); err != nil {
		slog.Error("failed to count open cycles", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}
	if open > 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Current cycle has not reached consensus")
		return
	}

	cycleID, roundID, err := openCycle(tx, chat, time.Now().UTC())
	if err != nil {
		slog.Error("failed to open cycle", "error", err, "chat_id", chatID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start cycle")
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Failed to start cycle")
		return
	}

	slog.Info("cycle started", "chat_id", chatID, "cycle_id", cycleID)

	middleware.JSONResponse(w, http.StatusCreated, models.StartCycleResponse{CycleID: cycleID, RoundID: roundID})
}
