// Package sync reconciles the local store with the remote server: it pushes
// unsynced journal operations, pulls server-authored changes, and resolves
// version conflicts deterministically.
package sync

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikenoired/synapse-sub000/internal/client/backup"
	"github.com/mikenoired/synapse-sub000/internal/client/journal"
	"github.com/mikenoired/synapse-sub000/internal/client/repositories/content"
	"github.com/mikenoired/synapse-sub000/internal/client/repositories/graph"
	"github.com/mikenoired/synapse-sub000/internal/client/repositories/tags"
	"github.com/mikenoired/synapse-sub000/internal/client/transport"
	"github.com/mikenoired/synapse-sub000/internal/logging"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// DefaultAutoSyncInterval matches the original polling cadence.
const DefaultAutoSyncInterval = 5 * time.Second

// Result summarizes one sync cycle.
type Result struct {
	Success   bool
	Conflicts []*syncmodel.Conflict
	Synced    int
	Failed    int
}

// Engine drives push/pull cycles against the remote API. A cycle that is
// already in flight drops concurrent triggers instead of queueing them.
type Engine struct {
	db      *sql.DB
	journal journal.Repository
	content *content.SQLiteRepository
	tags    *tags.SQLiteRepository
	graph   *graph.SQLiteRepository
	api     transport.API
	backups *backup.Store
	logger  logging.Logger
	userID  string

	inFlight atomic.Bool

	mu     sync.Mutex
	last   Result
	cancel context.CancelFunc
}

func NewEngine(db *sql.DB, api transport.API, backups *backup.Store, userID string, logger logging.Logger) *Engine {
	return &Engine{
		db:      db,
		journal: journal.NewSQLiteRepository(db),
		content: content.NewSQLiteRepository(db),
		tags:    tags.NewSQLiteRepository(db),
		graph:   graph.NewSQLiteRepository(db),
		api:     api,
		backups: backups,
		userID:  userID,
		logger:  logger.With("module", "sync"),
	}
}

// Sync runs one push/pull cycle. Re-entrant calls while a cycle is in flight
// return immediately with Success=false and no work done.
func (e *Engine) Sync(ctx context.Context) Result {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Debug(ctx, "sync already in progress, skipping")
		return Result{}
	}
	defer e.inFlight.Store(false)

	if e.backups != nil {
		if err := e.backups.CreateBackup(ctx, e.db, e.userID); err != nil {
			e.logger.Warn(ctx, "pre-sync backup failed", "error", err)
		}
	}

	pushRes := e.push(ctx)
	pullRes := e.pull(ctx)

	result := Result{
		Success:   pushRes.Success && pullRes.Success,
		Conflicts: append(pushRes.Conflicts, pullRes.Conflicts...),
		Synced:    pushRes.Synced + pullRes.Synced,
		Failed:    pushRes.Failed + pullRes.Failed,
	}

	e.mu.Lock()
	e.last = result
	e.mu.Unlock()

	e.logger.Info(ctx, "sync cycle completed",
		"success", result.Success, "synced", result.Synced,
		"failed", result.Failed, "conflicts", len(result.Conflicts))
	return result
}

// Busy reports whether a cycle is currently in flight.
func (e *Engine) Busy() bool {
	return e.inFlight.Load()
}

// LastResult returns the outcome of the most recent cycle.
func (e *Engine) LastResult() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// PendingCount reports operations still awaiting push.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.journal.PendingCount(ctx, e.userID)
}

// StartAutoSync runs an immediate cycle and then one per interval until
// StopAutoSync or ctx cancellation. Manual Sync calls share the same
// re-entrancy guard.
func (e *Engine) StartAutoSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoSyncInterval
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		e.Sync(ctx)

		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				e.Sync(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopAutoSync stops the interval timer. In-flight work is not cancelled.
func (e *Engine) StopAutoSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}
