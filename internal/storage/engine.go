// Package storage persists account configuration, settings, and task history
// behind a synchronous bridge. Two interchangeable engines exist — an embedded
// SQLite store and a server-based PostgreSQL store — selected once at startup
// by configuration presence and never mixed at runtime.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/polyrelay/polyrelay/internal/models"
)

// ErrUnavailable wraps backend connection failures. It is fatal at startup;
// later write failures are surfaced to the caller, never swallowed.
var ErrUnavailable = errors.New("storage: backend unavailable")

// historyKeep is how many task-history entries survive the append-and-trim.
const historyKeep = 100

// dialect captures the few places where the two engines speak different SQL.
type dialect struct {
	name string
	// rebind rewrites $N placeholders for drivers that want ?.
	rebind func(query string) string
	// trimHistory deletes all but the newest historyKeep entries.
	trimHistory string
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

func rebindQuestion(query string) string {
	return placeholderRe.ReplaceAllString(query, "?")
}

func rebindNone(query string) string { return query }

// sqlEngine implements every operation against database/sql; the dialect
// supplies the engine-specific bits.
type sqlEngine struct {
	db *sql.DB
	d  dialect
}

func (e *sqlEngine) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return e.db.ExecContext(ctx, e.d.rebind(query), args...)
}

func (e *sqlEngine) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return e.db.QueryContext(ctx, e.d.rebind(query), args...)
}

func (e *sqlEngine) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return e.db.QueryRowContext(ctx, e.d.rebind(query), args...)
}

func (e *sqlEngine) Close() error { return e.db.Close() }

// LoadAccounts returns every stored account config in position order.
func (e *sqlEngine) LoadAccounts(ctx context.Context) ([]models.AccountConfig, error) {
	rows, err := e.query(ctx, `SELECT account_id, data FROM accounts ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	var out []models.AccountConfig
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		var cfg models.AccountConfig
		if err := json.Unmarshal([]byte(data), &cfg); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", id, err)
		}
		cfg.AccountID = id
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// SaveAccounts replaces the whole account list, preserving list order as the
// stored position.
func (e *sqlEngine) SaveAccounts(ctx context.Context, configs []models.AccountConfig) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save accounts: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("save accounts: clear: %w", err)
	}
	insert := e.d.rebind(`INSERT INTO accounts (account_id, position, data) VALUES ($1, $2, $3)`)
	for i, cfg := range configs {
		data, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode account %s: %w", cfg.AccountID, err)
		}
		if _, err := tx.ExecContext(ctx, insert, cfg.AccountID, i, string(data)); err != nil {
			return fmt.Errorf("save account %s: %w", cfg.AccountID, err)
		}
	}
	return tx.Commit()
}

// UpdateAccountDisabled point-updates one account's disabled flag. Returns
// false when the account does not exist.
func (e *sqlEngine) UpdateAccountDisabled(ctx context.Context, accountID string, disabled bool) (bool, error) {
	var data string
	err := e.queryRow(ctx, `SELECT data FROM accounts WHERE account_id = $1`, accountID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update account %s: %w", accountID, err)
	}
	var cfg models.AccountConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return false, fmt.Errorf("decode account %s: %w", accountID, err)
	}
	cfg.Disabled = disabled
	updated, err := json.Marshal(cfg)
	if err != nil {
		return false, err
	}
	_, err = e.exec(ctx,
		`UPDATE accounts SET data = $1, updated_at = CURRENT_TIMESTAMP WHERE account_id = $2`,
		string(updated), accountID)
	if err != nil {
		return false, fmt.Errorf("update account %s: %w", accountID, err)
	}
	return true, nil
}

// LoadSettings returns the persisted settings document, or nil when none.
func (e *sqlEngine) LoadSettings(ctx context.Context) (map[string]any, error) {
	var value string
	err := e.queryRow(ctx, `SELECT value FROM kv_settings WHERE key = $1`, "settings").Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	var settings map[string]any
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// SaveSettings upserts the settings document.
func (e *sqlEngine) SaveSettings(ctx context.Context, settings map[string]any) error {
	value, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = e.exec(ctx, `
		INSERT INTO kv_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		"settings", string(value))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// AppendTaskHistory upserts one entry and trims the table to the newest
// historyKeep entries.
func (e *sqlEngine) AppendTaskHistory(ctx context.Context, entry models.TaskHistoryEntry) error {
	if entry.ID == "" {
		return errors.New("storage: task history entry missing id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append task history: %w", err)
	}
	defer tx.Rollback()

	upsert := e.d.rebind(`
		INSERT INTO task_history (id, data, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			data = excluded.data,
			created_at = excluded.created_at`)
	if _, err := tx.ExecContext(ctx, upsert, entry.ID, string(data), entry.CreatedAt); err != nil {
		return fmt.Errorf("append task history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, e.d.trimHistory); err != nil {
		return fmt.Errorf("trim task history: %w", err)
	}
	return tx.Commit()
}

// LoadTaskHistory returns the newest entries, most recent first.
func (e *sqlEngine) LoadTaskHistory(ctx context.Context, limit int) ([]models.TaskHistoryEntry, error) {
	if limit <= 0 || limit > historyKeep {
		limit = historyKeep
	}
	rows, err := e.query(ctx,
		`SELECT data FROM task_history ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load task history: %w", err)
	}
	defer rows.Close()

	var out []models.TaskHistoryEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var entry models.TaskHistoryEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("decode task history entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// initTables runs the engine's schema statements.
func (e *sqlEngine) initTables(ctx context.Context, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
