package graph

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikenoired/synapse-sub000/internal/client/journal"
	"github.com/mikenoired/synapse-sub000/internal/common"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE nodes (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  content TEXT,
  metadata TEXT,
  user_id TEXT NOT NULL
);
CREATE TABLE edges (
  id TEXT PRIMARY KEY,
  from_node TEXT NOT NULL,
  to_node TEXT NOT NULL,
  relation_type TEXT NOT NULL,
  user_id TEXT NOT NULL
);
CREATE TABLE sync_metadata (
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  version INTEGER NOT NULL,
  server_version INTEGER NOT NULL DEFAULT 0,
  last_modified INTEGER NOT NULL,
  sync_status TEXT NOT NULL,
  tombstone INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (entity_type, entity_id)
);
CREATE TABLE operations (
  id TEXT PRIMARY KEY,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  operation TEXT NOT NULL,
  data TEXT,
  version INTEGER NOT NULL,
  timestamp INTEGER NOT NULL,
  synced INTEGER NOT NULL DEFAULT 0,
  user_id TEXT NOT NULL
);
`)
	require.NoError(t, err)

	return db
}

func TestNodeLifecycle(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	n := &syncmodel.Node{
		ID: "n1", Type: "concept", Content: "sync",
		Metadata: []byte(`{"x":10,"y":20}`), UserID: "u1",
	}
	require.NoError(t, r.CreateNode(ctx, n))

	got, err := r.GetNode(ctx, "n1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "concept", got.Type)
	assert.JSONEq(t, `{"x":10,"y":20}`, string(got.Metadata))

	n.Content = "sync engine"
	require.NoError(t, r.UpdateNode(ctx, n))

	require.NoError(t, r.DeleteNode(ctx, "n1", "u1"))
	_, err = r.GetNode(ctx, "n1", "u1")
	require.ErrorIs(t, err, common.ErrNotFound)

	j := journal.NewSQLiteRepository(db)
	m, err := j.GetMetadata(ctx, syncmodel.EntityNode, "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.Version)
	assert.True(t, m.Tombstone)

	ops, err := j.UnsyncedOperations(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, ops, 3)
}

func TestNodeWithoutMetadata(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.CreateNode(ctx, &syncmodel.Node{ID: "n1", Type: "concept", UserID: "u1"}))

	got, err := r.GetNode(ctx, "n1", "u1")
	require.NoError(t, err)
	assert.Nil(t, got.Metadata)
}

func TestEdgeLifecycle(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.CreateEdge(ctx, &syncmodel.Edge{
		ID: "e1", FromNode: "n1", ToNode: "n2", RelationType: "references", UserID: "u1",
	}))

	edges, err := r.ListEdges(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "references", edges[0].RelationType)

	require.NoError(t, r.DeleteEdge(ctx, "e1", "u1"))

	edges, err = r.ListEdges(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, edges)

	j := journal.NewSQLiteRepository(db)
	m, err := j.GetMetadata(ctx, syncmodel.EntityEdge, "e1")
	require.NoError(t, err)
	assert.True(t, m.Tombstone)
}

func TestCreateOrUpdateNode_DoesNotJournal(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.CreateOrUpdateNode(ctx, db, &syncmodel.Node{ID: "n1", Type: "concept", UserID: "u1"}))
	require.NoError(t, r.CreateOrUpdateNode(ctx, db, &syncmodel.Node{ID: "n1", Type: "idea", UserID: "u1"}))

	got, err := r.GetNode(ctx, "n1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "idea", got.Type)

	j := journal.NewSQLiteRepository(db)
	n, err := j.PendingCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
