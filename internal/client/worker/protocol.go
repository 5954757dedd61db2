// Package worker connects a tab to the shared coordination endpoint. The
// endpoint elects a single sync driver per user and fans out change
// notifications, so idle tabs refresh their views without duplicating server
// requests. The coordinator is an optimization: when it is unreachable the
// engine falls back to a local auto-sync timer.
package worker

import "encoding/json"

// Message types of the coordination protocol.
const (
	TypeInit        = "INIT"
	TypeInitSuccess = "INIT_SUCCESS"
	TypeSyncNow     = "SYNC_NOW"
	TypeSyncUpdate  = "SYNC_UPDATE"
	TypeBroadcast   = "BROADCAST"
	TypeStop        = "STOP"
)

// Envelope is the typed frame exchanged with the coordination endpoint.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InitPayload registers a tab for a user.
type InitPayload struct {
	UserID string `json:"userId"`
}

// InitSuccessPayload acknowledges registration. Leader is true for exactly
// one registered tab per user; it is re-sent with leader=true when
// leadership moves to a surviving tab.
type InitSuccessPayload struct {
	Leader bool `json:"leader"`
}

// SyncUpdatePayload tells idle tabs that a sync cycle changed local data.
type SyncUpdatePayload struct {
	Synced    int `json:"synced"`
	Conflicts int `json:"conflicts"`
}

// NewEnvelope builds a frame with a JSON-encoded payload.
func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	env := &Envelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = data
	}
	return env, nil
}
