// Package server wires the sync server together: it selects a storage
// backend, builds the reconciliation service and the coordination hub, and
// runs the HTTP endpoint with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikenoired/synapse-sub000/internal/logging"
	"github.com/mikenoired/synapse-sub000/internal/server/config"
	"github.com/mikenoired/synapse-sub000/internal/server/httpapi"
	"github.com/mikenoired/synapse-sub000/internal/server/hub"
	"github.com/mikenoired/synapse-sub000/internal/server/services"
	"github.com/mikenoired/synapse-sub000/internal/server/storage"
)

type App struct {
	config *config.Config
	logger logging.Logger
	store  storage.Store
	server *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	var store storage.Store
	if cfg.DatabaseDSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		store = pg
	} else {
		logger.Warn(ctx, "no database DSN configured, state is kept in memory")
		store = storage.NewMemoryStore()
	}

	svc := services.NewSync(store, logger)
	srv := httpapi.NewServer(cfg.Address, svc, hub.New(logger), logger)

	return &App{config: cfg, logger: logger, store: store, server: srv}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server")
	app.initSignalHandler(cancelFunc)

	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, "server stopped", "error", err)
	}
	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "store close failed", "error", err)
	}
}
