package worker

import (
	"context"
	"encoding/json"
	"time"

	enginepkg "github.com/mikenoired/synapse-sub000/internal/client/sync"
	"github.com/mikenoired/synapse-sub000/internal/logging"
)

// Runner wires the sync engine to the coordinator: exactly one tab per user
// drives the auto-sync timer, followers react to SYNC_UPDATE broadcasts.
// Without a reachable coordinator every tab runs its own timer, which is
// correct but duplicates server requests.
type Runner struct {
	engine   *enginepkg.Engine
	client   *Client
	logger   logging.Logger
	interval time.Duration

	// OnRemoteUpdate is invoked on follower tabs when the driver reports
	// applied changes; hosts use it to re-query their views.
	OnRemoteUpdate func(p SyncUpdatePayload)
}

func NewRunner(engine *enginepkg.Engine, client *Client, interval time.Duration, logger logging.Logger) *Runner {
	return &Runner{
		engine:   engine,
		client:   client,
		logger:   logger.With("module", "worker_runner"),
		interval: interval,
	}
}

// Start registers with the coordinator and begins scheduling. On any
// coordinator failure it degrades to a local auto-sync timer.
func (r *Runner) Start(ctx context.Context, userID string) {
	if r.client == nil {
		r.logger.Info(ctx, "no coordinator configured, using local auto-sync")
		r.engine.StartAutoSync(ctx, r.interval)
		return
	}

	if err := r.client.Init(ctx, userID); err != nil {
		r.logger.Warn(ctx, "coordinator unavailable, using local auto-sync", "error", err)
		r.engine.StartAutoSync(ctx, r.interval)
		return
	}

	r.client.On(TypeSyncNow, func(json.RawMessage) {
		go r.runCycle(ctx)
	})
	r.client.On(TypeSyncUpdate, func(payload json.RawMessage) {
		var p SyncUpdatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		if r.OnRemoteUpdate != nil {
			r.OnRemoteUpdate(p)
		}
	})
	// Promotion: the endpoint re-sends INIT_SUCCESS with leader=true when
	// the previous driver disconnects.
	r.client.On(TypeInitSuccess, func(payload json.RawMessage) {
		var p InitSuccessPayload
		if err := json.Unmarshal(payload, &p); err != nil || !p.Leader {
			return
		}
		r.logger.Info(ctx, "promoted to sync driver")
		r.startDriving(ctx)
	})

	if r.client.Leader() {
		r.startDriving(ctx)
	} else {
		r.logger.Info(ctx, "registered as follower")
	}
}

// SyncNow triggers a cycle: on the driver directly, on followers via the
// coordinator so the work is not duplicated.
func (r *Runner) SyncNow(ctx context.Context) {
	if r.client == nil || r.client.Leader() {
		go r.runCycle(ctx)
		return
	}
	r.client.SyncNow()
}

// Stop halts scheduling and leaves the coordinator.
func (r *Runner) Stop() {
	r.engine.StopAutoSync()
	if r.client != nil {
		r.client.Close()
	}
}

func (r *Runner) startDriving(ctx context.Context) {
	r.logger.Info(ctx, "driving auto-sync")
	r.engine.StartAutoSync(ctx, r.interval)

	go func() {
		t := time.NewTicker(r.interval)
		defer t.Stop()
		var lastSynced int
		for {
			select {
			case <-t.C:
				res := r.engine.LastResult()
				if res.Synced > 0 && res.Synced != lastSynced {
					lastSynced = res.Synced
					_ = r.client.Send(TypeSyncUpdate, SyncUpdatePayload{
						Synced:    res.Synced,
						Conflicts: len(res.Conflicts),
					})
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Runner) runCycle(ctx context.Context) {
	res := r.engine.Sync(ctx)
	if r.client != nil && r.client.Leader() && res.Synced > 0 {
		_ = r.client.Send(TypeSyncUpdate, SyncUpdatePayload{
			Synced:    res.Synced,
			Conflicts: len(res.Conflicts),
		})
	}
}
