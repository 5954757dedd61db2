package sync

import (
	"context"
	"time"

	"github.com/mikenoired/synapse-sub000/internal/client/journal"
	"github.com/mikenoired/synapse-sub000/internal/dbx"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// resolveConflicts applies the whole-entity, last-writer-by-version policy:
//
//   - no local metadata: the server is authoritative, adopt its data;
//   - server version ahead of the local version: server wins, the pending
//     local write for the entity is discarded;
//   - otherwise: local wins, the operation stays unsynced and is retried on
//     the next push cycle.
//
// Given identical versions the outcome is always the same. No field-level
// merge is attempted.
func (e *Engine) resolveConflicts(ctx context.Context, conflicts []*syncmodel.Conflict) error {
	for _, c := range conflicts {
		e.logger.Info(ctx, "resolving conflict",
			"entity_type", c.EntityType, "entity_id", c.EntityID,
			"local_version", c.LocalVersion, "server_version", c.ServerVersion)

		meta, err := e.journal.GetMetadata(ctx, c.EntityType, c.EntityID)
		if err != nil {
			return err
		}

		if meta != nil && c.ServerVersion <= meta.Version {
			e.logger.Info(ctx, "local wins", "entity_id", c.EntityID)
			continue
		}

		e.logger.Info(ctx, "server wins", "entity_id", c.EntityID)
		if err := e.discardPending(ctx, c.EntityType, c.EntityID); err != nil {
			return err
		}
		if err := e.applyServerChange(ctx, &syncmodel.Change{
			EntityType: c.EntityType,
			EntityID:   c.EntityID,
			Operation:  syncmodel.OpUpdate,
			Data:       c.ServerData,
			Version:    c.ServerVersion,
			Timestamp:  time.Now().UnixMilli(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// discardPending consumes the loser's unsynced operations for one entity so
// they are not replayed against a server that already rejected them.
func (e *Engine) discardPending(ctx context.Context, entityType syncmodel.EntityType, entityID string) error {
	return dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		j := journal.NewSQLiteRepository(tx)
		ops, err := j.UnsyncedOperations(ctx, e.userID)
		if err != nil {
			return err
		}
		for _, op := range ops {
			if op.EntityType != entityType || op.EntityID != entityID {
				continue
			}
			if err := j.MarkSynced(ctx, op.ID); err != nil {
				return err
			}
		}
		return nil
	})
}
