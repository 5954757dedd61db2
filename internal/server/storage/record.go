// Package storage persists the server-side authoritative copy of every
// synchronized entity as opaque versioned records. Reconciliation logic
// lives in the services layer; stores only read and write rows.
package storage

import (
	"context"
	"encoding/json"

	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// Record is the server's row for one entity. Data is the client-marshalled
// entity body; deleted records keep their row so pulls can propagate the
// tombstone.
type Record struct {
	UserID     string
	EntityType syncmodel.EntityType
	EntityID   string
	Data       json.RawMessage
	Version    int64
	Deleted    bool
	UpdatedAt  int64
}

// Key returns the per-user record key, matching the client's watermark keys.
func (r *Record) Key() string {
	return syncmodel.SinceKey(r.EntityType, r.EntityID)
}

type Store interface {
	// Get returns the record or nil when absent.
	Get(ctx context.Context, userID string, entityType syncmodel.EntityType, entityID string) (*Record, error)
	Upsert(ctx context.Context, rec *Record) error
	// ListSince returns the user's records whose version is greater than the
	// watermark in since for their key. Records with no watermark are always
	// included.
	ListSince(ctx context.Context, userID string, since map[string]int64) ([]*Record, error)
	// ListLive returns all non-deleted records for the user.
	ListLive(ctx context.Context, userID string) ([]*Record, error)
	Close() error
}
