package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/polyrelay/polyrelay/internal/models"
)

// opTimeout bounds a single storage operation on the bridge goroutine.
const opTimeout = 30 * time.Second

// Config selects the storage engine: a non-empty DatabaseURL picks the
// PostgreSQL engine, otherwise the embedded SQLite store at SQLitePath.
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

// Bridge is the synchronous façade over a storage engine. All driver work
// runs on one dedicated background goroutine, started lazily on first use;
// synchronous callers hand it a job and block on completion, so no caller
// ever touches the engine from its own goroutine.
type Bridge struct {
	engine  *sqlEngine
	logger  *zap.Logger
	jobs    chan job
	start   sync.Once
	stop    sync.Once
	stopped chan struct{}
}

type job struct {
	fn   func(ctx context.Context) error
	done chan error
}

// Open connects the selected engine and verifies it. A backend that is
// configured but unreachable is a startup failure, reported as
// ErrUnavailable.
func Open(cfg Config, logger *zap.Logger) (*Bridge, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		engine *sqlEngine
		err    error
	)
	if cfg.DatabaseURL != "" {
		engine, err = openPostgres(ctx, cfg.DatabaseURL)
	} else {
		path := cfg.SQLitePath
		if path == "" {
			path = "data.db"
		}
		engine, err = openSQLite(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("storage engine ready", zap.String("engine", engine.d.name))

	return &Bridge{
		engine:  engine,
		logger:  logger,
		jobs:    make(chan job),
		stopped: make(chan struct{}),
	}, nil
}

// run submits a closure to the bridge goroutine and blocks until it finishes.
func (b *Bridge) run(fn func(ctx context.Context) error) error {
	select {
	case <-b.stopped:
		return ErrUnavailable
	default:
	}
	b.start.Do(func() { go b.loop() })
	done := make(chan error, 1)
	select {
	case b.jobs <- job{fn: fn, done: done}:
		return <-done
	case <-b.stopped:
		return ErrUnavailable
	}
}

func (b *Bridge) loop() {
	for {
		select {
		case j := <-b.jobs:
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			j.done <- j.fn(ctx)
			cancel()
		case <-b.stopped:
			return
		}
	}
}

// Close stops the bridge goroutine and closes the engine.
func (b *Bridge) Close() error {
	b.stop.Do(func() { close(b.stopped) })
	return b.engine.Close()
}

// Engine returns the active engine name ("sqlite" or "postgres").
func (b *Bridge) Engine() string { return b.engine.d.name }

// LoadAccounts returns every persisted account config in stored order.
func (b *Bridge) LoadAccounts() ([]models.AccountConfig, error) {
	var out []models.AccountConfig
	err := b.run(func(ctx context.Context) error {
		var err error
		out, err = b.engine.LoadAccounts(ctx)
		return err
	})
	return out, err
}

// SaveAccounts replaces the persisted account list.
func (b *Bridge) SaveAccounts(configs []models.AccountConfig) error {
	return b.run(func(ctx context.Context) error {
		return b.engine.SaveAccounts(ctx, configs)
	})
}

// UpdateAccountDisabled point-updates one account's disabled flag.
func (b *Bridge) UpdateAccountDisabled(accountID string, disabled bool) (bool, error) {
	var found bool
	err := b.run(func(ctx context.Context) error {
		var err error
		found, err = b.engine.UpdateAccountDisabled(ctx, accountID, disabled)
		return err
	})
	return found, err
}

// LoadSettings returns the persisted settings document, nil when unset.
func (b *Bridge) LoadSettings() (map[string]any, error) {
	var out map[string]any
	err := b.run(func(ctx context.Context) error {
		var err error
		out, err = b.engine.LoadSettings(ctx)
		return err
	})
	return out, err
}

// SaveSettings upserts the settings document.
func (b *Bridge) SaveSettings(settings map[string]any) error {
	return b.run(func(ctx context.Context) error {
		return b.engine.SaveSettings(ctx, settings)
	})
}

// AppendTaskHistory upserts one history entry and trims to the newest 100.
func (b *Bridge) AppendTaskHistory(entry models.TaskHistoryEntry) error {
	return b.run(func(ctx context.Context) error {
		return b.engine.AppendTaskHistory(ctx, entry)
	})
}

// LoadTaskHistory returns up to limit entries, most recent first.
func (b *Bridge) LoadTaskHistory(limit int) ([]models.TaskHistoryEntry, error) {
	var out []models.TaskHistoryEntry
	err := b.run(func(ctx context.Context) error {
		var err error
		out, err = b.engine.LoadTaskHistory(ctx, limit)
		return err
	})
	return out, err
}
