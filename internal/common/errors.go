// Package common defines shared constants and sentinel errors used across
// the client and server layers of the sync core. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors.
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable marks transient transport failures. The sync engine
	// retries these with backoff; everything else aborts the phase.
	ErrUnavailable = errors.New("server unavailable")

	// ErrSyncInProgress is returned when a sync cycle is already running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrNoBackup means no snapshot was found, or the stored snapshot has an
	// incompatible format version.
	ErrNoBackup = errors.New("no usable backup")

	// ErrCoordinatorUnavailable means the shared coordination endpoint could
	// not be reached; the caller should degrade to local-only scheduling.
	ErrCoordinatorUnavailable = errors.New("coordinator unavailable")
)
