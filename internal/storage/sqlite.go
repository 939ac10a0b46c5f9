package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	data TEXT NOT NULL,
	updated_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS accounts_position_idx ON accounts(position);
CREATE TABLE IF NOT EXISTS kv_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS task_history (
	id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	created_at REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS task_history_created_at_idx ON task_history(created_at)
`

// openSQLite opens the embedded single-writer store.
func openSQLite(ctx context.Context, path string) (*sqlEngine, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrUnavailable, err)
	}
	// Single writer: the bridge goroutine is the only caller, so one
	// connection avoids SQLITE_BUSY entirely.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: set %s: %v", ErrUnavailable, p, err)
		}
	}

	e := &sqlEngine{
		db: db,
		d: dialect{
			name:   "sqlite",
			rebind: rebindQuestion,
			trimHistory: `DELETE FROM task_history WHERE id IN (
				SELECT id FROM task_history ORDER BY created_at DESC LIMIT -1 OFFSET 100)`,
		},
	}
	if err := e.initTables(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e, nil
}
