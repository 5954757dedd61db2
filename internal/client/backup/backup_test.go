package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mikenoired/synapse-sub000/internal/common"
	"github.com/mikenoired/synapse-sub000/internal/logging"

	_ "modernc.org/sqlite"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE content (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  content TEXT NOT NULL,
  title TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  user_id TEXT NOT NULL
);
CREATE TABLE tags (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  user_id TEXT NOT NULL
);
`)
	require.NoError(t, err)

	return db
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	db := setupDB(t)
	s := setupStore(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO content (id, type, content, title, created_at, updated_at, user_id)
		VALUES ('c1', 'note', 'body', 'first', 1, 2, 'u1')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO tags (id, title, user_id) VALUES ('t1', 'golang', 'u1')`)
	require.NoError(t, err)

	require.NoError(t, s.CreateBackup(ctx, db, "u1"))

	// wipe and restore
	_, err = db.Exec(`DELETE FROM content; DELETE FROM tags;`)
	require.NoError(t, err)

	restored, err := s.Restore(ctx, db, "u1")
	require.NoError(t, err)
	assert.True(t, restored)

	var title string
	require.NoError(t, db.QueryRow(`SELECT title FROM tags WHERE id = 't1'`).Scan(&title))
	assert.Equal(t, "golang", title)

	// content rows come back without their body
	var body, ctitle string
	require.NoError(t, db.QueryRow(`SELECT content, title FROM content WHERE id = 'c1'`).Scan(&body, &ctitle))
	assert.Empty(t, body)
	assert.Equal(t, "first", ctitle)
}

func TestRestore_NoBackupIsNotAnError(t *testing.T) {
	db := setupDB(t)
	s := setupStore(t)

	restored, err := s.Restore(context.Background(), db, "u1")
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestRestore_UpsertsExistingRows(t *testing.T) {
	db := setupDB(t)
	s := setupStore(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO tags (id, title, user_id) VALUES ('t1', 'old', 'u1')`)
	require.NoError(t, err)
	require.NoError(t, s.CreateBackup(ctx, db, "u1"))

	_, err = db.Exec(`UPDATE tags SET title = 'newer' WHERE id = 't1'`)
	require.NoError(t, err)

	restored, err := s.Restore(ctx, db, "u1")
	require.NoError(t, err)
	assert.True(t, restored)

	var title string
	var count int
	require.NoError(t, db.QueryRow(`SELECT title FROM tags WHERE id = 't1'`).Scan(&title))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tags`).Scan(&count))
	assert.Equal(t, "old", title)
	assert.Equal(t, 1, count)
}

func TestRestore_IncompatibleVersionFailsSafe(t *testing.T) {
	db := setupDB(t)
	s := setupStore(t)
	ctx := context.Background()

	payload, err := msgpack.Marshal(&snapshot{
		Version:   FormatVersion + 1,
		Timestamp: 1,
		Tables: map[string][]map[string]any{
			"tags": {{"id": "t1", "title": "bad", "user_id": "u1"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(backupKey("u1"), payload)
	}))

	restored, err := s.Restore(ctx, db, "u1")
	require.ErrorIs(t, err, common.ErrNoBackup)
	assert.False(t, restored)

	// nothing was applied
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tags`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestCreateBackup_CapsContentRows(t *testing.T) {
	db := setupDB(t)
	s := setupStore(t)
	ctx := context.Background()

	for i := 0; i < contentRowCap+20; i++ {
		_, err := db.Exec(`INSERT INTO content (id, type, content, created_at, updated_at, user_id)
			VALUES (?, 'note', 'body', 1, 1, 'u1')`, fmt.Sprintf("c%03d", i))
		require.NoError(t, err)
	}

	require.NoError(t, s.CreateBackup(ctx, db, "u1"))

	_, err := db.Exec(`DELETE FROM content`)
	require.NoError(t, err)

	restored, err := s.Restore(ctx, db, "u1")
	require.NoError(t, err)
	assert.True(t, restored)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM content`).Scan(&count))
	assert.Equal(t, contentRowCap, count)
}

func TestCreateBackup_ReplacesPreviousSnapshot(t *testing.T) {
	db := setupDB(t)
	s := setupStore(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO tags (id, title, user_id) VALUES ('t1', 'first', 'u1')`)
	require.NoError(t, err)
	require.NoError(t, s.CreateBackup(ctx, db, "u1"))

	_, err = db.Exec(`UPDATE tags SET title = 'second' WHERE id = 't1'`)
	require.NoError(t, err)
	require.NoError(t, s.CreateBackup(ctx, db, "u1"))

	_, err = db.Exec(`DELETE FROM tags`)
	require.NoError(t, err)

	restored, err := s.Restore(ctx, db, "u1")
	require.NoError(t, err)
	assert.True(t, restored)

	var title string
	require.NoError(t, db.QueryRow(`SELECT title FROM tags WHERE id = 't1'`).Scan(&title))
	assert.Equal(t, "second", title)
}
