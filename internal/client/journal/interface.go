package journal

import (
	"context"

	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// Repository is the journal surface the sync engine depends on.
// Implementations are backed by the local store.
type Repository interface {
	GetMetadata(ctx context.Context, entityType syncmodel.EntityType, entityID string) (*syncmodel.SyncMetadata, error)
	NextVersion(ctx context.Context, entityType syncmodel.EntityType, entityID string) (int64, error)
	UpsertMetadata(ctx context.Context, m *syncmodel.SyncMetadata) error
	RecordOperation(ctx context.Context, op *syncmodel.Operation) error
	UnsyncedOperations(ctx context.Context, userID string) ([]*syncmodel.Operation, error)
	MarkSynced(ctx context.Context, operationID string) error
	PendingCount(ctx context.Context, userID string) (int, error)
	ListMetadata(ctx context.Context) ([]*syncmodel.SyncMetadata, error)
}

var _ Repository = (*SQLiteRepository)(nil)
