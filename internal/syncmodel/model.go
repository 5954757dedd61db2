// Package syncmodel holds the data model shared by the local store, the sync
// engine and the server counterpart: entity rows, per-entity sync metadata,
// journaled operations and the wire payloads of the sync API.
package syncmodel

import "encoding/json"

// EntityType names a synchronized table.
type EntityType string

const (
	EntityContent    EntityType = "content"
	EntityTag        EntityType = "tag"
	EntityContentTag EntityType = "content_tag"
	EntityNode       EntityType = "node"
	EntityEdge       EntityType = "edge"
)

// OperationKind is the mutation recorded in the journal.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// SyncStatus is the per-entity reconciliation state.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
)

// SyncMetadata is one row per (entity_type, entity_id).
//
// Invariants: Version never decreases and is unique per local mutation of the
// entity; Tombstone=true implies the primary row is absent; StatusSynced
// implies ServerVersion == Version.
type SyncMetadata struct {
	EntityType    EntityType `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	Version       int64      `json:"version"`
	ServerVersion int64      `json:"server_version,omitempty"`
	LastModified  int64      `json:"last_modified"`
	SyncStatus    SyncStatus `json:"sync_status"`
	Tombstone     bool       `json:"tombstone"`
}

// Operation is an immutable journal entry. Rows are marked synced, never
// deleted. Data is absent for deletes.
type Operation struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  OperationKind   `json:"operation"`
	Data       json.RawMessage `json:"data,omitempty"`
	Version    int64           `json:"version"`
	Timestamp  int64           `json:"timestamp"`
	Synced     bool            `json:"synced"`
	UserID     string          `json:"user_id"`
}
