// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/converge/cliparse"
	"github.com/danielhkuo/converge/middleware"
	"github.com/danielhkuo/converge/models"
	"github.com/danielhkuo/converge/store"
)

// Health status values
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"

	checkPass = "pass"
	checkFail = "fail"
)

type HealthHandler struct {
	cfg     cliparse.Config
	store   *store.SQLStore
	version string
	now     func() time.Time
}

func NewHealthHandler(db *sql.DB, cfg cliparse.Config, version string) *HealthHandler {
	return &HealthHandler{cfg: cfg, store: store.New(db), version: version, now: time.Now}
}

// overallStatus is healthy when every check passes, unhealthy when every
// check fails, and degraded otherwise.
func overallStatus(checks map[string]models.HealthCheck) string {
	failed := 0
	for _, c := range checks {
		if c.Status == checkFail {
			failed++
		}
	}
	switch {
	case failed == 0:
		return HealthHealthy
	case failed < len(checks):
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// GetHealth handles GET /health
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]models.HealthCheck)

	start := h.now()
	err := h.store.Ping(r.Context())
	latency := h.now().Sub(start).Milliseconds()
	if err != nil {
		checks["database"] = models.HealthCheck{Name: "Database", Status: checkFail, LatencyMs: latency, Message: err.Error()}
	} else {
		checks["database"] = models.HealthCheck{Name: "Database", Status: checkPass, LatencyMs: latency}
	}

	// Without at least one credential nothing can trigger a sweep over HTTP
	if h.cfg.CronSecret == "" && h.cfg.ServiceSecret == "" {
		checks["secrets"] = models.HealthCheck{Name: "Secrets Configuration", Status: checkFail, Message: "Missing: CRON_SECRET or SERVICE_ROLE_SECRET"}
	} else {
		checks["secrets"] = models.HealthCheck{Name: "Secrets Configuration", Status: checkPass}
	}

	// The last sweep is informational only and never fails the check
	if err == nil {
		sweep := models.HealthCheck{Name: "Last Sweep", Status: checkPass}
		run, runErr := h.store.LatestSweepRun(r.Context())
		switch {
		case errors.Is(runErr, store.ErrNotFound):
			sweep.Message = "no sweeps recorded"
		case runErr != nil:
			sweep.Message = runErr.Error()
		default:
			sweep.Message = fmt.Sprintf("%s, started %s", run.Status, humanize.RelTime(run.StartedAt, h.now(), "ago", "from now"))
		}
		checks["sweep"] = sweep
	}

	resp := models.HealthResponse{
		Status:    overallStatus(checks),
		Timestamp: h.now().UTC(),
		Version:   h.version,
		Checks:    checks,
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	status := http.StatusOK
	if resp.Status == HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	middleware.JSONResponse(w, status, resp)
}
