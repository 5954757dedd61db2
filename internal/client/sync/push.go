package sync

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mikenoired/synapse-sub000/internal/common"
	"github.com/mikenoired/synapse-sub000/internal/dbx"
	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
	"github.com/mikenoired/synapse-sub000/internal/client/journal"
)

const (
	maxRetries     = 3
	retryBaseDelay = time.Second
)

// withBackoff retries fn on transient transport faults with exponential
// backoff, a bounded number of times per cycle.
func withBackoff(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, common.ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// push drains unsynced operations to the server as a single batch. Every
// operation the server did not report as conflicted is marked synced;
// conflicts go to resolution. A failed push leaves all operations pending.
func (e *Engine) push(ctx context.Context) Result {
	ops, err := e.journal.UnsyncedOperations(ctx, e.userID)
	if err != nil {
		e.logger.Error(ctx, "failed to load unsynced operations", "error", err)
		return Result{}
	}
	if len(ops) == 0 {
		return Result{Success: true}
	}

	e.logger.Debug(ctx, "pushing local changes", "operations", len(ops))

	var resp *syncmodel.PushResponse
	err = withBackoff(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.api.Push(ctx, &syncmodel.PushRequest{Operations: ops})
		return callErr
	})
	if err != nil {
		e.logger.Error(ctx, "push failed", "error", err)
		return Result{Failed: len(ops)}
	}

	conflicted := make(map[string]struct{}, len(resp.Conflicts))
	for _, c := range resp.Conflicts {
		conflicted[syncmodel.SinceKey(c.EntityType, c.EntityID)] = struct{}{}
	}

	synced := 0
	for _, op := range ops {
		if _, ok := conflicted[syncmodel.SinceKey(op.EntityType, op.EntityID)]; ok {
			continue
		}
		if err := e.acknowledgeOperation(ctx, op); err != nil {
			e.logger.Error(ctx, "failed to acknowledge operation", "operation_id", op.ID, "error", err)
			continue
		}
		synced++
	}

	if err := e.resolveConflicts(ctx, resp.Conflicts); err != nil {
		e.logger.Error(ctx, "conflict resolution failed", "error", err)
	}

	return Result{
		Success:   true,
		Conflicts: resp.Conflicts,
		Synced:    synced,
		Failed:    len(ops) - synced - len(resp.Conflicts),
	}
}

// acknowledgeOperation marks one accepted operation synced and, when it is
// the entity's latest local version, promotes the entity to synced with
// server_version = version.
func (e *Engine) acknowledgeOperation(ctx context.Context, op *syncmodel.Operation) error {
	return dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		j := journal.NewSQLiteRepository(tx)

		if err := j.MarkSynced(ctx, op.ID); err != nil {
			return err
		}

		meta, err := j.GetMetadata(ctx, op.EntityType, op.EntityID)
		if err != nil {
			return err
		}
		if meta == nil || meta.Version != op.Version {
			// A newer local mutation exists; the entity stays pending.
			return nil
		}

		meta.ServerVersion = op.Version
		meta.SyncStatus = syncmodel.StatusSynced
		return j.UpsertMetadata(ctx, meta)
	})
}
