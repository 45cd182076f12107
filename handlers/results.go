// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/converge/cliparse"
	"github.com/danielhkuo/converge/middleware"
	"github.com/danielhkuo/converge/store"
)

type ResultsHandler struct {
	db    *sql.DB
	cfg   cliparse.Config
	store *store.SQLStore
}

func NewResultsHandler(db *sql.DB, cfg cliparse.Config) *ResultsHandler {
	return &ResultsHandler{db: db, cfg: cfg, store: store.New(db)}
}

// GetResults handles GET /chats/{id}/results
// Lists every cycle with its completed rounds and their winners.
func (h *ResultsHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if chatID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "chat id is required")
		return
	}

	results, err := h.store.Results(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		slog.Error("failed to load results", "error", err, "chat_id", chatID)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "Database error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, results)
}
