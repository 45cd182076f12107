// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lib/pq"

	"github.com/danielhkuo/converge/auth"
	"github.com/danielhkuo/converge/cliparse"
	"github.com/danielhkuo/converge/middleware"
	"github.com/danielhkuo/converge/models"
	"github.com/danielhkuo/converge/store"
)

// Request headers
const (
	HostKeyHeader          = "X-Host-Key"
	ParticipantTokenHeader = "X-Participant-Token"
)

var errBadToken = errors.New("invalid participant token")

// requireHost writes 401 and returns false unless the request carries the
// chat's host key.
func requireHost(w http.ResponseWriter, r *http.Request, cfg cliparse.Config, chatID string) bool {
	if err := auth.ValidateHostKey(chatID, r.Header.Get(HostKeyHeader), cfg.HostKeySalt); err != nil {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid host key")
		return false
	}
	return true
}

// activeParticipant resolves the request's participant token for chatID.
// Only active participants are returned.
func activeParticipant(ctx context.Context, db *sql.DB, cfg cliparse.Config, chatID string, r *http.Request) (models.Participant, error) {
	hash, err := auth.HashToken(r.Header.Get(ParticipantTokenHeader), cfg.HostKeySalt)
	if err != nil {
		return models.Participant{}, errBadToken
	}

	var p models.Participant
	err = db.QueryRowContext(ctx, `
		SELECT id, chat_id, display_name, status, is_host, created_at
		FROM participant
		WHERE chat_id = $1 AND token = $2 AND status = $3
	`, chatID, hash, models.StatusActive).Scan(&p.ID, &p.ChatID, &p.DisplayName, &p.Status, &p.IsHost, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Participant{}, errBadToken
	}
	if err != nil {
		return models.Participant{}, err
	}
	return p, nil
}

// authParticipant is activeParticipant with the HTTP error handling done.
func authParticipant(w http.ResponseWriter, r *http.Request, db *sql.DB, cfg cliparse.Config, chatID string) (models.Participant, bool) {
	p, err := activeParticipant(r.Context(), db, cfg, chatID, r)
	if errors.Is(err, errBadToken) {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid participant token")
		return p, false
	}
	if err != nil {
		slog.Error("failed to look up participant", "error", err, "chat_id", chatID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return p, false
	}
	return p, true
}

// loadState writes the matching error response and returns false when the
// chat cannot be read.
func loadState(w http.ResponseWriter, r *http.Request, s *store.SQLStore, chatID string) (models.ChatState, bool) {
	state, err := s.ChatState(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Chat not found")
		return state, false
	}
	if err != nil {
		slog.Error("failed to load chat state", "error", err, "chat_id", chatID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return state, false
	}
	return state, true
}

// isUniqueViolation recognises duplicate-key errors from both drivers
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// claimRound holds the round row for the rest of tx, provided the round is
// still open and in phase. Engine transitions update the same row, so a
// write made under the claim commits before the phase can change.
func claimRound(ctx context.Context, tx *sql.Tx, roundID string, phase models.Phase) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE round SET phase = phase
		WHERE id = $1 AND phase = $2 AND completed_at IS NULL
	`, roundID, string(phase))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
