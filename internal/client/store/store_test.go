package store

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikenoired/synapse-sub000/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOpen_DurableCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	m := NewManager(path, testLogger())
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	db, err := m.Open(ctx)
	require.NoError(t, err)
	assert.False(t, m.InMemory())

	// the migrated schema is usable
	_, err = db.Exec(`INSERT INTO tags (id, title, user_id) VALUES ('t1', 'golang', 'u1')`)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sync_metadata`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestOpen_Idempotent(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "local.db"), testLogger())
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	db1, err := m.Open(ctx)
	require.NoError(t, err)
	db2, err := m.Open(ctx)
	require.NoError(t, err)
	assert.Same(t, db1, db2)
}

func TestOpen_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	ctx := context.Background()

	m := NewManager(path, testLogger())
	db, err := m.Open(ctx)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO tags (id, title, user_id) VALUES ('t1', 'golang', 'u1')`)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.Nil(t, m.DB())

	db, err = m.Open(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	var title string
	require.NoError(t, db.QueryRow(`SELECT title FROM tags WHERE id = 't1'`).Scan(&title))
	assert.Equal(t, "golang", title)
}

func TestOpen_CorruptFileFallsBackToMemoryAndRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	// not a SQLite database
	require.NoError(t, os.WriteFile(path, []byte("garbage, not a database"), 0o600))

	restoreCalled := false
	m := NewManager(path, testLogger(), WithRestore(func(ctx context.Context, db *sql.DB) (bool, error) {
		restoreCalled = true
		_, err := db.ExecContext(ctx, `INSERT INTO tags (id, title, user_id) VALUES ('t1', 'from-backup', 'u1')`)
		return err == nil, err
	}))
	t.Cleanup(func() { _ = m.Close() })

	db, err := m.Open(context.Background())
	require.NoError(t, err)
	assert.True(t, m.InMemory())
	assert.True(t, restoreCalled)

	var title string
	require.NoError(t, db.QueryRow(`SELECT title FROM tags WHERE id = 't1'`).Scan(&title))
	assert.Equal(t, "from-backup", title)
}

func TestOpen_EmptyPathSkipsRestore(t *testing.T) {
	restoreCalled := false
	m := NewManager("", testLogger(), WithRestore(func(ctx context.Context, db *sql.DB) (bool, error) {
		restoreCalled = true
		return false, nil
	}))
	t.Cleanup(func() { _ = m.Close() })

	_, err := m.Open(context.Background())
	require.NoError(t, err)
	assert.True(t, m.InMemory())
	assert.False(t, restoreCalled)
}
