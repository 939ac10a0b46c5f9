package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	data TEXT NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS accounts_position_idx ON accounts(position);
CREATE TABLE IF NOT EXISTS kv_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS task_history (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	created_at DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS task_history_created_at_idx ON task_history(created_at DESC)
`

// openPostgres opens the server-based relational store.
func openPostgres(ctx context.Context, databaseURL string) (*sqlEngine, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", ErrUnavailable, err)
	}

	e := &sqlEngine{
		db: db,
		d: dialect{
			name:   "postgres",
			rebind: rebindNone,
			trimHistory: `DELETE FROM task_history WHERE id IN (
				SELECT id FROM task_history ORDER BY created_at DESC OFFSET 100)`,
		},
	}
	if err := e.initTables(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e, nil
}
