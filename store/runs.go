// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/converge/models"
)

// StartSweepRun records the start of a sweep and returns its run ID.
func (s *SQLStore) StartSweepRun(ctx context.Context, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_run (id, started_at, status) VALUES ($1, $2, $3)
	`, id, startedAt.UTC(), models.RunRunning)
	if err != nil {
		return "", fmt.Errorf("failed to record sweep start: %w", err)
	}
	return id, nil
}

// FinishSweepRun stores the report. A report with errors marks the run partial.
func (s *SQLStore) FinishSweepRun(ctx context.Context, id string, finishedAt time.Time, report models.SweepReport) error {
	status := models.RunSuccess
	if len(report.Errors) > 0 {
		status = models.RunPartial
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode sweep report: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sweep_run SET finished_at = $1, status = $2, report = $3 WHERE id = $4
	`, finishedAt.UTC(), status, string(body), id)
	if err != nil {
		return fmt.Errorf("failed to record sweep finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sweep run %s: %w", id, ErrNotFound)
	}
	return nil
}

// LatestSweepRun returns the most recently started sweep.
func (s *SQLStore) LatestSweepRun(ctx context.Context) (models.SweepRun, error) {
	var run models.SweepRun
	var finished sql.NullTime
	var report sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, report
		FROM sweep_run
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&run.ID, &run.StartedAt, &finished, &run.Status, &report)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, fmt.Errorf("failed to load sweep run: %w", err)
	}

	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = timePtr(finished)
	if report.Valid && report.String != "" {
		var r models.SweepReport
		if err := json.Unmarshal([]byte(report.String), &r); err != nil {
			return run, fmt.Errorf("failed to decode sweep report: %w", err)
		}
		run.Report = &r
	}
	return run, nil
}
