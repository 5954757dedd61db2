// Package transport talks to the remote sync API over HTTP/JSON.
package transport

import (
	"context"

	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// API is the remote surface the sync engine depends on.
type API interface {
	// Push submits unsynced operations as one batch.
	Push(ctx context.Context, req *syncmodel.PushRequest) (*syncmodel.PushResponse, error)

	// Pull fetches server-authored changes newer than the supplied per-entity
	// version snapshot.
	Pull(ctx context.Context, req *syncmodel.PullRequest) (*syncmodel.PullResponse, error)

	// Bootstrap fetches the server's complete current state for the user.
	Bootstrap(ctx context.Context, req *syncmodel.BootstrapRequest) (*syncmodel.BootstrapResponse, error)

	Close() error
}
