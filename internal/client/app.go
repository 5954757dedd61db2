// Package client wires the local-first stack together: snapshot store, local
// database with recovery, transport, sync engine and the coordination runner.
package client

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikenoired/synapse-sub000/internal/client/backup"
	"github.com/mikenoired/synapse-sub000/internal/client/config"
	"github.com/mikenoired/synapse-sub000/internal/client/journal"
	"github.com/mikenoired/synapse-sub000/internal/client/store"
	syncpkg "github.com/mikenoired/synapse-sub000/internal/client/sync"
	"github.com/mikenoired/synapse-sub000/internal/client/transport"
	"github.com/mikenoired/synapse-sub000/internal/client/worker"
	"github.com/mikenoired/synapse-sub000/internal/logging"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	backups *backup.Store
	manager *store.Manager
	db      *sql.DB
	api     transport.API
	engine  *syncpkg.Engine
	runner  *worker.Runner
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	backups, err := backup.Open(cfg.BackupPath, logger)
	if err != nil {
		return nil, fmt.Errorf("backup store init error: %w", err)
	}

	manager := store.NewManager(cfg.DatabasePath, logger,
		store.WithRestore(func(ctx context.Context, db *sql.DB) (bool, error) {
			return backups.Restore(ctx, db, cfg.UserID)
		}))
	db, err := manager.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("local store init error: %w", err)
	}

	api := transport.NewHTTPClient(cfg.ServerEndpointAddr, cfg.UserID)
	engine := syncpkg.NewEngine(db, api, backups, cfg.UserID, logger)

	var wc *worker.Client
	if cfg.CoordinatorURL != "" {
		wc = worker.NewClient(cfg.CoordinatorURL, logger)
	}
	runner := worker.NewRunner(engine, wc, cfg.SyncInterval, logger)

	return &App{
		config:  cfg,
		logger:  logger,
		backups: backups,
		manager: manager,
		db:      db,
		api:     api,
		engine:  engine,
		runner:  runner,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the client and blocks until interrupted. A store with no
// registry rows gets a one-time bootstrap pull before syncing begins.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting client", "user_id", app.config.UserID,
		"in_memory", app.manager.InMemory())
	app.initSignalHandler(cancelFunc)

	if app.storeEmpty(ctx) {
		if err := app.engine.Bootstrap(ctx); err != nil {
			app.logger.Warn(ctx, "bootstrap failed, continuing with empty store", "error", err)
		}
	}

	go app.backups.ScheduleBackups(ctx, app.db, app.config.UserID, app.config.BackupInterval)
	app.runner.Start(ctx, app.config.UserID)

	<-ctx.Done()
	app.shutdown()
}

func (app *App) storeEmpty(ctx context.Context) bool {
	metas, err := journal.NewSQLiteRepository(app.db).ListMetadata(ctx)
	if err != nil {
		app.logger.Warn(ctx, "registry read failed", "error", err)
		return false
	}
	return len(metas) == 0
}

func (app *App) shutdown() {
	ctx := context.Background()
	app.logger.Info(ctx, "shutting down")

	app.runner.Stop()
	if err := app.api.Close(); err != nil {
		app.logger.Warn(ctx, "transport close failed", "error", err)
	}
	if err := app.manager.Close(); err != nil {
		app.logger.Warn(ctx, "local store close failed", "error", err)
	}
	if err := app.backups.Close(); err != nil {
		app.logger.Warn(ctx, "backup store close failed", "error", err)
	}
}
