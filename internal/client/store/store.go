// Package store owns the lifecycle of the embedded local database: durable
// open with an integrity probe, in-memory fallback, schema migrations and an
// optional restore-from-backup hook invoked when the durable store is lost.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mikenoired/synapse-sub000/internal/client/store/migrations"
	"github.com/mikenoired/synapse-sub000/internal/logging"
)

// RestoreFunc replays a backup snapshot into a freshly opened database.
// It reports whether a usable backup was found and applied.
type RestoreFunc func(ctx context.Context, db *sql.DB) (bool, error)

// Manager is the explicitly owned handle to the local store. It is created
// once per process and passed by reference to repositories and the engine.
// Open is idempotent; concurrent callers share one initialization.
type Manager struct {
	mu      sync.Mutex
	path    string
	db      *sql.DB
	memory  bool
	logger  logging.Logger
	restore RestoreFunc
}

type Option func(*Manager)

// WithRestore installs the recovery path attempted after an in-memory
// fallback.
func WithRestore(fn RestoreFunc) Option {
	return func(m *Manager) { m.restore = fn }
}

// NewManager creates a manager for the database file at path. An empty path
// means in-memory only (no durable attempt, no recovery).
func NewManager(path string, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{path: path, logger: logger.With("module", "store")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns a live database handle, initializing it on first use.
// The durable file is attempted first; if it cannot be opened, fails the
// integrity probe, or cannot be migrated, the store falls back to an
// in-memory database and a best-effort restore from backup is attempted.
func (m *Manager) Open(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db, nil
	}

	if m.path != "" {
		db, err := m.openDurable(ctx)
		if err == nil {
			m.db = db
			m.memory = false
			return m.db, nil
		}
		m.logger.Error(ctx, "durable store unavailable, falling back to memory", "path", m.path, "error", err)
	}

	db, err := m.openMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	m.db = db
	m.memory = true

	if m.path != "" && m.restore != nil {
		restored, err := m.restore(ctx, db)
		if err != nil {
			m.logger.Warn(ctx, "restore from backup failed", "error", err)
		} else if restored {
			m.logger.Info(ctx, "restored state from backup")
		}
	}

	return m.db, nil
}

// DB returns the current handle, or nil before Open.
func (m *Manager) DB() *sql.DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

// InMemory reports whether the store fell back to a non-durable database.
func (m *Manager) InMemory() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memory
}

// Close releases the handle. A subsequent Open re-initializes from durable
// state.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	m.memory = false
	return err
}

func (m *Manager) openDurable(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", m.path)
	if err != nil {
		return nil, err
	}

	if err := checkIntegrity(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	return db, nil
}

func (m *Manager) openMemory(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// The pool must not open a second connection: each :memory: connection
	// is its own database.
	db.SetMaxOpenConns(1)
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// checkIntegrity runs the engine's integrity probe and fails unless it
// reports ok.
func checkIntegrity(ctx context.Context, db *sql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("integrity probe failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// RunMigrations brings the schema up to date from the embedded migration
// files.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}
