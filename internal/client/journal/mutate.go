package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mikenoired/synapse-sub000/internal/dbx"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// Mutation describes one journaled local write.
type Mutation struct {
	EntityType syncmodel.EntityType
	EntityID   string
	Kind       syncmodel.OperationKind
	Data       json.RawMessage
	UserID     string
}

// Apply runs fn (the primary-table write) and the sync bookkeeping inside a
// single transaction: version bump, metadata upsert with status pending, and
// operation append. Computing and consuming the version on one transactional
// handle keeps versions race-free within a process.
func Apply(ctx context.Context, db *sql.DB, mut Mutation, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	now := time.Now().UnixMilli()
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		j := NewSQLiteRepository(tx)

		existing, err := j.GetMetadata(ctx, mut.EntityType, mut.EntityID)
		if err != nil {
			return err
		}
		version := int64(1)
		serverVersion := int64(0)
		if existing != nil {
			version = existing.Version + 1
			serverVersion = existing.ServerVersion
		}

		if err := fn(ctx, tx); err != nil {
			return err
		}

		if err := j.UpsertMetadata(ctx, &syncmodel.SyncMetadata{
			EntityType:    mut.EntityType,
			EntityID:      mut.EntityID,
			Version:       version,
			ServerVersion: serverVersion,
			LastModified:  now,
			SyncStatus:    syncmodel.StatusPending,
			Tombstone:     mut.Kind == syncmodel.OpDelete,
		}); err != nil {
			return err
		}

		return j.RecordOperation(ctx, &syncmodel.Operation{
			EntityType: mut.EntityType,
			EntityID:   mut.EntityID,
			Operation:  mut.Kind,
			Data:       mut.Data,
			Version:    version,
			Timestamp:  now,
			UserID:     mut.UserID,
		})
	})
}
