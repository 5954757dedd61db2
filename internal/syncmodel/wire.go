package syncmodel

import "encoding/json"

// PushRequest carries all unsynced local operations in one batch.
type PushRequest struct {
	Operations []*Operation `json:"operations"`
}

// Conflict reports a push rejected because the server's version for the
// entity is ahead of what the client last knew.
type Conflict struct {
	EntityType    EntityType      `json:"entityType"`
	EntityID      string          `json:"entityId"`
	LocalVersion  int64           `json:"localVersion"`
	ServerVersion int64           `json:"serverVersion"`
	LocalData     json.RawMessage `json:"localData,omitempty"`
	ServerData    json.RawMessage `json:"serverData,omitempty"`
}

type PushResponse struct {
	Success   bool        `json:"success"`
	Conflicts []*Conflict `json:"conflicts"`
	Synced    int         `json:"synced"`
}

// PullRequest asks for server-authored changes newer than the client's
// per-entity version snapshot. Entities absent from Since are always sent.
type PullRequest struct {
	UserID string           `json:"userId"`
	Since  map[string]int64 `json:"since,omitempty"`
}

// Change is one server-authored mutation delivered by pull.
type Change struct {
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  OperationKind   `json:"operation"`
	Data       json.RawMessage `json:"data,omitempty"`
	Version    int64           `json:"version"`
	Timestamp  int64           `json:"timestamp"`
}

type PullResponse struct {
	Changes []*Change `json:"changes"`
}

type BootstrapRequest struct {
	UserID string `json:"userId"`
}

// BootstrapData is the server's complete current state for one user.
type BootstrapData struct {
	Content     []*Content    `json:"content"`
	Tags        []*Tag        `json:"tags"`
	ContentTags []*ContentTag `json:"content_tags"`
	Nodes       []*Node       `json:"nodes"`
	Edges       []*Edge       `json:"edges"`
}

type BootstrapResponse struct {
	Data BootstrapData `json:"data"`
}

// SinceKey builds the map key used in PullRequest.Since.
func SinceKey(entityType EntityType, entityID string) string {
	return string(entityType) + ":" + entityID
}
