package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
  id          UUID         PRIMARY KEY,
  run_token   TEXT         NOT NULL,
  analysis    TEXT         NOT NULL,
  user_id     TEXT         NOT NULL DEFAULT '',
  input_path  TEXT         NOT NULL DEFAULT '',
  output_dir  TEXT         NOT NULL,
  status      TEXT         NOT NULL,
  error       TEXT         NOT NULL DEFAULT '',
  error_code  TEXT         NOT NULL DEFAULT '',
  duration_ms BIGINT       NOT NULL DEFAULT 0,
  started_at  TIMESTAMPTZ  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_user_started ON analysis_runs (user_id, started_at DESC);`

// EnsureSchema creates the run ledger table when it is missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
