// Package services implements the server-side reconciliation rules on top of
// a storage.Store.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mikenoired/synapse-sub000/internal/logging"
	"github.com/mikenoired/synapse-sub000/internal/server/storage"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// Sync applies pushed client operations, serves incremental pulls and builds
// bootstrap snapshots. Conflict rule: the server record wins whenever its
// version is at least the version the operation carries.
type Sync struct {
	store  storage.Store
	logger logging.Logger
}

func NewSync(store storage.Store, logger logging.Logger) *Sync {
	return &Sync{store: store, logger: logger.With("module", "sync_service")}
}

// Push applies the batch one operation at a time. An operation losing the
// version comparison is reported as a conflict carrying the winning server
// state; the rest of the batch is still applied.
func (s *Sync) Push(ctx context.Context, userID string, ops []*syncmodel.Operation) (*syncmodel.PushResponse, error) {
	resp := &syncmodel.PushResponse{Success: true, Conflicts: []*syncmodel.Conflict{}}

	for _, op := range ops {
		rec, err := s.store.Get(ctx, userID, op.EntityType, op.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to load record: %w", err)
		}

		if rec != nil && rec.Version >= op.Version {
			resp.Conflicts = append(resp.Conflicts, &syncmodel.Conflict{
				EntityType:    op.EntityType,
				EntityID:      op.EntityID,
				LocalVersion:  op.Version,
				ServerVersion: rec.Version,
				LocalData:     op.Data,
				ServerData:    rec.Data,
			})
			continue
		}

		ts := op.Timestamp
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		err = s.store.Upsert(ctx, &storage.Record{
			UserID:     userID,
			EntityType: op.EntityType,
			EntityID:   op.EntityID,
			Data:       op.Data,
			Version:    op.Version,
			Deleted:    op.Operation == syncmodel.OpDelete,
			UpdatedAt:  ts,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to apply operation: %w", err)
		}
		resp.Synced++
	}

	s.logger.Debug(ctx, "push applied", "user_id", userID,
		"synced", resp.Synced, "conflicts", len(resp.Conflicts))
	return resp, nil
}

// Pull returns every record ahead of the client's per-entity watermarks.
func (s *Sync) Pull(ctx context.Context, userID string, since map[string]int64) (*syncmodel.PullResponse, error) {
	recs, err := s.store.ListSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	resp := &syncmodel.PullResponse{Changes: []*syncmodel.Change{}}
	for _, rec := range recs {
		op := syncmodel.OpUpdate
		if rec.Deleted {
			op = syncmodel.OpDelete
		}
		resp.Changes = append(resp.Changes, &syncmodel.Change{
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			Operation:  op,
			Data:       rec.Data,
			Version:    rec.Version,
			Timestamp:  rec.UpdatedAt,
		})
	}
	return resp, nil
}

// Bootstrap returns the user's full live state grouped by entity kind.
func (s *Sync) Bootstrap(ctx context.Context, userID string) (*syncmodel.BootstrapData, error) {
	recs, err := s.store.ListLive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	data := &syncmodel.BootstrapData{
		Content:     []*syncmodel.Content{},
		Tags:        []*syncmodel.Tag{},
		ContentTags: []*syncmodel.ContentTag{},
		Nodes:       []*syncmodel.Node{},
		Edges:       []*syncmodel.Edge{},
	}

	for _, rec := range recs {
		if len(rec.Data) == 0 {
			continue
		}
		if err := appendEntity(data, rec); err != nil {
			s.logger.Warn(ctx, "skipping undecodable record", "user_id", userID,
				"entity_type", rec.EntityType, "entity_id", rec.EntityID, "error", err)
		}
	}
	return data, nil
}

func appendEntity(data *syncmodel.BootstrapData, rec *storage.Record) error {
	switch rec.EntityType {
	case syncmodel.EntityContent:
		var v syncmodel.Content
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return err
		}
		data.Content = append(data.Content, &v)
	case syncmodel.EntityTag:
		var v syncmodel.Tag
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return err
		}
		data.Tags = append(data.Tags, &v)
	case syncmodel.EntityContentTag:
		var v syncmodel.ContentTag
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return err
		}
		data.ContentTags = append(data.ContentTags, &v)
	case syncmodel.EntityNode:
		var v syncmodel.Node
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return err
		}
		data.Nodes = append(data.Nodes, &v)
	case syncmodel.EntityEdge:
		var v syncmodel.Edge
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return err
		}
		data.Edges = append(data.Edges, &v)
	default:
		return fmt.Errorf("unknown entity type %q", rec.EntityType)
	}
	return nil
}
