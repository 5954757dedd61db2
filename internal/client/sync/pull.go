package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mikenoired/synapse-sub000/internal/client/journal"
	"github.com/mikenoired/synapse-sub000/internal/dbx"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// pull fetches server-authored changes newer than the per-entity watermarks
// and applies them one by one. A single bad record is counted as failed
// without aborting the rest of the batch.
func (e *Engine) pull(ctx context.Context) Result {
	since, err := e.watermarks(ctx)
	if err != nil {
		e.logger.Error(ctx, "failed to build pull watermarks", "error", err)
		return Result{}
	}

	var resp *syncmodel.PullResponse
	err = withBackoff(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.api.Pull(ctx, &syncmodel.PullRequest{UserID: e.userID, Since: since})
		return callErr
	})
	if err != nil {
		e.logger.Error(ctx, "pull failed", "error", err)
		return Result{}
	}

	if len(resp.Changes) == 0 {
		return Result{Success: true}
	}

	e.logger.Debug(ctx, "pulling server changes", "changes", len(resp.Changes))

	synced, failed := 0, 0
	for _, change := range resp.Changes {
		if err := e.applyServerChange(ctx, change); err != nil {
			e.logger.Error(ctx, "failed to apply server change",
				"entity_type", change.EntityType, "entity_id", change.EntityID, "error", err)
			failed++
			continue
		}
		synced++
	}

	return Result{Success: true, Synced: synced, Failed: failed}
}

// watermarks builds the per-entity server_version snapshot sent with pull.
// There is no single global watermark: entities may be pulled at different
// rates.
func (e *Engine) watermarks(ctx context.Context) (map[string]int64, error) {
	metas, err := e.journal.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	since := make(map[string]int64, len(metas))
	for _, m := range metas {
		since[syncmodel.SinceKey(m.EntityType, m.EntityID)] = m.ServerVersion
	}
	return since, nil
}

// applyServerChange applies one remote mutation inside a single transaction.
// Re-delivery is a no-op: when the recorded server_version already covers the
// incoming version the change is skipped.
func (e *Engine) applyServerChange(ctx context.Context, change *syncmodel.Change) error {
	return dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		j := journal.NewSQLiteRepository(tx)

		meta, err := j.GetMetadata(ctx, change.EntityType, change.EntityID)
		if err != nil {
			return err
		}
		if meta != nil && meta.ServerVersion >= change.Version {
			e.logger.Debug(ctx, "skipping already applied change",
				"entity_type", change.EntityType, "entity_id", change.EntityID, "version", change.Version)
			return nil
		}

		if err := e.applyEntity(ctx, tx, change); err != nil {
			return err
		}

		timestamp := change.Timestamp
		if timestamp == 0 {
			timestamp = time.Now().UnixMilli()
		}
		return j.UpsertMetadata(ctx, &syncmodel.SyncMetadata{
			EntityType:    change.EntityType,
			EntityID:      change.EntityID,
			Version:       change.Version,
			ServerVersion: change.Version,
			LastModified:  timestamp,
			SyncStatus:    syncmodel.StatusSynced,
			Tombstone:     change.Operation == syncmodel.OpDelete,
		})
	})
}

func (e *Engine) applyEntity(ctx context.Context, tx dbx.DBTX, change *syncmodel.Change) error {
	deleting := change.Operation == syncmodel.OpDelete

	switch change.EntityType {
	case syncmodel.EntityContent:
		if deleting {
			return e.content.Remove(ctx, tx, change.EntityID)
		}
		c := &syncmodel.Content{}
		if err := json.Unmarshal(change.Data, c); err != nil {
			return fmt.Errorf("bad content payload: %w", err)
		}
		c.ID = change.EntityID
		return e.content.CreateOrUpdate(ctx, tx, c)

	case syncmodel.EntityTag:
		if deleting {
			return e.tags.Remove(ctx, tx, change.EntityID)
		}
		t := &syncmodel.Tag{}
		if err := json.Unmarshal(change.Data, t); err != nil {
			return fmt.Errorf("bad tag payload: %w", err)
		}
		t.ID = change.EntityID
		return e.tags.CreateOrUpdate(ctx, tx, t)

	case syncmodel.EntityContentTag:
		contentID, tagID, err := splitContentTagID(change.EntityID)
		if err != nil {
			return err
		}
		if deleting {
			return e.tags.DropLink(ctx, tx, contentID, tagID)
		}
		ct := &syncmodel.ContentTag{ContentID: contentID, TagID: tagID, UserID: e.userID}
		if change.Data != nil {
			if err := json.Unmarshal(change.Data, ct); err != nil {
				return fmt.Errorf("bad content tag payload: %w", err)
			}
			ct.ContentID, ct.TagID = contentID, tagID
		}
		return e.tags.PutLink(ctx, tx, ct)

	case syncmodel.EntityNode:
		if deleting {
			return e.graph.RemoveNode(ctx, tx, change.EntityID)
		}
		n := &syncmodel.Node{}
		if err := json.Unmarshal(change.Data, n); err != nil {
			return fmt.Errorf("bad node payload: %w", err)
		}
		n.ID = change.EntityID
		return e.graph.CreateOrUpdateNode(ctx, tx, n)

	case syncmodel.EntityEdge:
		if deleting {
			return e.graph.RemoveEdge(ctx, tx, change.EntityID)
		}
		edge := &syncmodel.Edge{}
		if err := json.Unmarshal(change.Data, edge); err != nil {
			return fmt.Errorf("bad edge payload: %w", err)
		}
		edge.ID = change.EntityID
		return e.graph.CreateOrUpdateEdge(ctx, tx, edge)

	default:
		return fmt.Errorf("unknown entity type %q", change.EntityType)
	}
}

func splitContentTagID(id string) (string, string, error) {
	contentID, tagID, ok := strings.Cut(id, ":")
	if !ok {
		return "", "", fmt.Errorf("malformed content tag id %q", id)
	}
	return contentID, tagID, nil
}
