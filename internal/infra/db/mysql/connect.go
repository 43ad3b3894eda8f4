package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
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
  id          VARCHAR(36)  NOT NULL PRIMARY KEY,
  run_token   VARCHAR(32)  NOT NULL,
  analysis    VARCHAR(255) NOT NULL,
  user_id     VARCHAR(64)  NOT NULL DEFAULT '',
  input_path  TEXT         NOT NULL,
  output_dir  TEXT         NOT NULL,
  status      VARCHAR(16)  NOT NULL,
  error       TEXT         NOT NULL,
  error_code  VARCHAR(32)  NOT NULL DEFAULT '',
  duration_ms BIGINT       NOT NULL DEFAULT 0,
  started_at  DATETIME(3)  NOT NULL,
  KEY idx_analysis_runs_user_started (user_id, started_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

// EnsureSchema creates the run ledger table when it is missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
