// Package journal is the only path by which repositories record local
// mutations for later synchronization: an append-only operation log plus the
// per-entity version registry (sync_metadata).
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mikenoired/synapse-sub000/internal/dbx"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// SQLiteRepository implements the journal over a DBTX (either *sql.DB or
// *sql.Tx). NextVersion and the mutation consuming it must run on the same
// transactional handle.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetMetadata returns the registry row for one entity, or nil when the
// entity was never seen locally.
func (r *SQLiteRepository) GetMetadata(ctx context.Context, entityType syncmodel.EntityType, entityID string) (*syncmodel.SyncMetadata, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT entity_type, entity_id, version, server_version, last_modified, sync_status, tombstone
		FROM sync_metadata WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID)

	m := &syncmodel.SyncMetadata{}
	var tombstone int
	err := row.Scan(&m.EntityType, &m.EntityID, &m.Version, &m.ServerVersion, &m.LastModified, &m.SyncStatus, &tombstone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync metadata: %w", err)
	}
	m.Tombstone = tombstone != 0
	return m, nil
}

// NextVersion returns the version the next local mutation of the entity must
// carry: current version + 1, or 1 for unknown entities.
func (r *SQLiteRepository) NextVersion(ctx context.Context, entityType syncmodel.EntityType, entityID string) (int64, error) {
	m, err := r.GetMetadata(ctx, entityType, entityID)
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 1, nil
	}
	return m.Version + 1, nil
}

// UpsertMetadata writes the registry row, last write wins per key.
func (r *SQLiteRepository) UpsertMetadata(ctx context.Context, m *syncmodel.SyncMetadata) error {
	tombstone := 0
	if m.Tombstone {
		tombstone = 1
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_metadata (entity_type, entity_id, version, server_version, last_modified, sync_status, tombstone)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			version = excluded.version,
			server_version = excluded.server_version,
			last_modified = excluded.last_modified,
			sync_status = excluded.sync_status,
			tombstone = excluded.tombstone`,
		m.EntityType, m.EntityID, m.Version, m.ServerVersion, m.LastModified, m.SyncStatus, tombstone)
	if err != nil {
		return fmt.Errorf("failed to upsert sync metadata: %w", err)
	}
	return nil
}

// RecordOperation appends an immutable journal row with synced=false.
// The operation id is generated here.
func (r *SQLiteRepository) RecordOperation(ctx context.Context, op *syncmodel.Operation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	var data any
	if op.Data != nil {
		data = string(op.Data)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO operations (id, entity_type, entity_id, operation, data, version, timestamp, synced, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		op.ID, op.EntityType, op.EntityID, op.Operation, data, op.Version, op.Timestamp, op.UserID)
	if err != nil {
		return fmt.Errorf("failed to record operation: %w", err)
	}
	return nil
}

// UnsyncedOperations returns all pending operations for the user ordered by
// timestamp ascending. The sync engine relies on this ordering for push.
func (r *SQLiteRepository) UnsyncedOperations(ctx context.Context, userID string) ([]*syncmodel.Operation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, operation, data, version, timestamp, synced, user_id
		FROM operations WHERE synced = 0 AND user_id = ?
		ORDER BY timestamp ASC, version ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select unsynced operations: %w", err)
	}
	defer rows.Close()

	var result []*syncmodel.Operation
	for rows.Next() {
		op := &syncmodel.Operation{}
		var data sql.NullString
		var synced int
		if err := rows.Scan(&op.ID, &op.EntityType, &op.EntityID, &op.Operation, &data, &op.Version, &op.Timestamp, &synced, &op.UserID); err != nil {
			return nil, err
		}
		if data.Valid {
			op.Data = []byte(data.String)
		}
		op.Synced = synced != 0
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSynced flags one operation as acknowledged. The row is kept.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, operationID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE operations SET synced = 1 WHERE id = ?`, operationID)
	if err != nil {
		return fmt.Errorf("failed to mark operation synced: %w", err)
	}
	return nil
}

// PendingCount reports how many operations still await push for the user.
func (r *SQLiteRepository) PendingCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations WHERE synced = 0 AND user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return n, nil
}

// ListMetadata returns every registry row. The sync engine uses it to build
// the per-entity pull watermarks.
func (r *SQLiteRepository) ListMetadata(ctx context.Context) ([]*syncmodel.SyncMetadata, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, version, server_version, last_modified, sync_status, tombstone
		FROM sync_metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync metadata: %w", err)
	}
	defer rows.Close()

	var result []*syncmodel.SyncMetadata
	for rows.Next() {
		m := &syncmodel.SyncMetadata{}
		var tombstone int
		if err := rows.Scan(&m.EntityType, &m.EntityID, &m.Version, &m.ServerVersion, &m.LastModified, &m.SyncStatus, &tombstone); err != nil {
			return nil, err
		}
		m.Tombstone = tombstone != 0
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
