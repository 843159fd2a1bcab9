package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reports (
  id           TEXT PRIMARY KEY,
  station      TEXT NOT NULL,
  direction    TEXT NOT NULL,
  created_at   TIMESTAMPTZ NOT NULL,
  display_time TEXT NOT NULL,
  creator_id   TEXT NOT NULL,
  upvotes      INTEGER NOT NULL DEFAULT 0 CHECK (upvotes >= 0),
  downvotes    INTEGER NOT NULL DEFAULT 0 CHECK (downvotes >= 0),
  user_votes   JSONB NOT NULL DEFAULT '{}'::jsonb
)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_creator_id ON reports (creator_id)`,
}

// Migrate creates the reports table and its indexes if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
