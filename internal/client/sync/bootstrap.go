package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/mikenoired/synapse-sub000/internal/client/journal"
	"github.com/mikenoired/synapse-sub000/internal/dbx"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// Bootstrap performs the one-time full pull that populates an empty local
// store from the server's complete dataset. It runs before incremental sync
// begins and is idempotent when retried: rows are upserted by id, so
// re-creating the same entity does not duplicate it.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.logger.Info(ctx, "starting initial bootstrap")

	var resp *syncmodel.BootstrapResponse
	err := withBackoff(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.api.Bootstrap(ctx, &syncmodel.BootstrapRequest{UserID: e.userID})
		return callErr
	})
	if err != nil {
		return fmt.Errorf("bootstrap fetch failed: %w", err)
	}

	data := resp.Data
	now := time.Now().UnixMilli()

	err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		j := journal.NewSQLiteRepository(tx)

		for _, c := range data.Content {
			if err := e.content.CreateOrUpdate(ctx, tx, c); err != nil {
				return err
			}
			if err := bootstrapMetadata(ctx, j, syncmodel.EntityContent, c.ID, now); err != nil {
				return err
			}
		}
		for _, t := range data.Tags {
			if err := e.tags.CreateOrUpdate(ctx, tx, t); err != nil {
				return err
			}
			if err := bootstrapMetadata(ctx, j, syncmodel.EntityTag, t.ID, now); err != nil {
				return err
			}
		}
		for _, ct := range data.ContentTags {
			if err := e.tags.PutLink(ctx, tx, ct); err != nil {
				return err
			}
			id := syncmodel.ContentTagID(ct.ContentID, ct.TagID)
			if err := bootstrapMetadata(ctx, j, syncmodel.EntityContentTag, id, now); err != nil {
				return err
			}
		}
		for _, n := range data.Nodes {
			if err := e.graph.CreateOrUpdateNode(ctx, tx, n); err != nil {
				return err
			}
			if err := bootstrapMetadata(ctx, j, syncmodel.EntityNode, n.ID, now); err != nil {
				return err
			}
		}
		for _, edge := range data.Edges {
			if err := e.graph.CreateOrUpdateEdge(ctx, tx, edge); err != nil {
				return err
			}
			if err := bootstrapMetadata(ctx, j, syncmodel.EntityEdge, edge.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bootstrap apply failed: %w", err)
	}

	e.logger.Info(ctx, "bootstrap completed",
		"content", len(data.Content), "tags", len(data.Tags),
		"content_tags", len(data.ContentTags), "nodes", len(data.Nodes), "edges", len(data.Edges))
	return nil
}

// bootstrapMetadata seeds the registry for a bootstrapped entity. The full
// dump carries no version numbers, so entities start at version 1; the first
// incremental pull repairs the watermark for anything the server holds at a
// higher version.
func bootstrapMetadata(ctx context.Context, j journal.Repository, entityType syncmodel.EntityType, entityID string, now int64) error {
	existing, err := j.GetMetadata(ctx, entityType, entityID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return j.UpsertMetadata(ctx, &syncmodel.SyncMetadata{
		EntityType:    entityType,
		EntityID:      entityID,
		Version:       1,
		ServerVersion: 1,
		LastModified:  now,
		SyncStatus:    syncmodel.StatusSynced,
	})
}
