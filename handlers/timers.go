// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/converge/auth"
	"github.com/danielhkuo/converge/cliparse"
	"github.com/danielhkuo/converge/middleware"
	"github.com/danielhkuo/converge/models"
)

// Sweeper runs one pass over every schedulable chat.
type Sweeper interface {
	Sweep(ctx context.Context) models.SweepReport
}

type TimerHandler struct {
	cfg     cliparse.Config
	sweeper Sweeper
}

func NewTimerHandler(cfg cliparse.Config, sweeper Sweeper) *TimerHandler {
	return &TimerHandler{cfg: cfg, sweeper: sweeper}
}

// ProcessTimers handles POST /process-timers
// Per-chat failures are reported in the body; the status stays 200.
func (h *TimerHandler) ProcessTimers(w http.ResponseWriter, r *http.Request) {
	if err := auth.ValidateSweepRequest(r, h.cfg.CronSecret, h.cfg.ServiceSecret); err != nil {
		slog.Warn("rejected sweep request", "client_ip", middleware.GetClientIP(r))
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	report := h.sweeper.Sweep(r.Context())
	middleware.JSONResponse(w, http.StatusOK, report)
}
