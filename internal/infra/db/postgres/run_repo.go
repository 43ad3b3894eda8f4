package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/sans-pilot/internal/domain/runs"
)

type RunRepository struct{ db *sql.DB }

func NewRunRepository(db *sql.DB) *RunRepository { return &RunRepository{db: db} }

// Save inserts or updates a run record
func (r *RunRepository) Save(ctx context.Context, rec *domain.Record) error {
	const q = `
INSERT INTO analysis_runs
(id, run_token, analysis, user_id, input_path, output_dir, status, error, error_code, duration_ms, started_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 error = EXCLUDED.error,
 error_code = EXCLUDED.error_code,
 duration_ms = EXCLUDED.duration_ms;`

	if rec.ID == "" {
		rec.ID = domain.RecordID(uuid.NewString())
	}
	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, q,
		string(rec.ID), rec.RunToken, stringOrDash(rec.Analysis), rec.UserID, rec.InputPath, rec.OutputDir,
		stringOrDash(string(rec.Status)), rec.Error, rec.ErrorCode, rec.DurationMS, started,
	)
	return err
}

// Latest runs per user
func (r *RunRepository) Latest(ctx context.Context, userID string, limit int) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, run_token, analysis, user_id, input_path, output_dir, status, error, error_code, duration_ms, started_at
FROM analysis_runs
WHERE user_id=$1 ORDER BY started_at DESC, run_token DESC LIMIT $2;`

	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Record, 0, limit)
	for rows.Next() {
		var rec domain.Record
		if err := rows.Scan(
			&rec.ID, &rec.RunToken, &rec.Analysis, &rec.UserID, &rec.InputPath, &rec.OutputDir,
			&rec.Status, &rec.Error, &rec.ErrorCode, &rec.DurationMS, &rec.StartedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *RunRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
