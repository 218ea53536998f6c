// Package app wires configuration into a ready Handler. Both entrypoints
// build through here so the CLI and the MCP server drive the same graph.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"unycop-connector/internal/batch"
	"unycop-connector/internal/catalog"
	"unycop-connector/internal/config"
	"unycop-connector/internal/export"
	"unycop-connector/internal/feed"
	"unycop-connector/internal/handler"
	"unycop-connector/internal/migrate"
	"unycop-connector/internal/progress"
	"unycop-connector/internal/reconcile"
	"unycop-connector/internal/woocommerce"
)

// Store is a product catalog that also lists orders.
type Store interface {
	catalog.Adapter
	export.OrderSource
}

// App is the wired connector.
type App struct {
	Handler *handler.Handler
	Config  *config.Config
	backend *progress.Backend
}

// Build connects to the configured WooCommerce store and progress backend.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, err := woocommerce.New(woocommerce.Config{
		StoreURL:  cfg.Store.URL,
		APIKey:    cfg.Store.APIKey,
		APISecret: cfg.Store.APISecret,
		Timeout:   cfg.Store.Timeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating store client: %w", err)
	}
	return BuildWith(ctx, cfg, store, logger)
}

// BuildWith wires the connector around an existing store.
func BuildWith(ctx context.Context, cfg *config.Config, store Store, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tolerance, err := cfg.PriceTolerance()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	backend, err := progress.Open(ctx, cfg.ProgressOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening progress backend: %w", err)
	}

	if cfg.Progress.Backend == progress.BackendMemory {
		logger.Warn("progress backend is memory; chunked runs cannot resume across processes")
	}

	source := feed.FileSource{Path: cfg.Feed.Path}
	feedOpts := feed.Options{
		Encoding:   feed.Encoding(cfg.Feed.Encoding),
		MinColumns: cfg.Feed.MinColumns,
	}

	full := reconcile.New(store, reconcile.Options{
		Policy:         reconcile.PolicyFull,
		AutoCreate:     cfg.Sync.AutoCreate,
		Verify:         cfg.Sync.Verify,
		PriceTolerance: &tolerance,
		Logger:         logger.With("policy", "full"),
	})
	quick := reconcile.New(store, reconcile.Options{
		Policy:         reconcile.PolicyQuick,
		Verify:         cfg.Sync.Verify,
		PriceTolerance: &tolerance,
		Logger:         logger.With("policy", "quick"),
	})

	sync := batch.New(batch.Options{
		Name:             progress.SyncName,
		Source:           source,
		Feed:             feedOpts,
		Store:            backend.Store,
		Locker:           backend.Locker,
		Handler:          full,
		QuickHandler:     quick,
		ChunkSize:        cfg.Sync.ChunkSize,
		RequireMigration: cfg.Sync.RequireMigration,
		Logger:           logger,
	})
	migration := batch.New(batch.Options{
		Name:      progress.MigrationName,
		Source:    source,
		Feed:      feedOpts,
		Store:     backend.Store,
		Locker:    backend.Locker,
		Handler:   migrate.New(store, migrate.Options{Store: backend.Store, Logger: logger}),
		ChunkSize: cfg.Sync.ChunkSize,
		Logger:    logger,
	})

	exporter := export.New(store, export.Options{
		Path:     cfg.Export.Path,
		Format:   cfg.Export.Format,
		Location: loc,
		BOM:      cfg.Export.BOM,
		Status:   cfg.Export.Status,
		Logger:   logger,
	})

	logger.Info("connector wired",
		"environment", cfg.Environment,
		"store_url", cfg.Store.URL,
		"feed_path", cfg.Feed.Path,
		"progress_backend", cfg.Progress.Backend,
		"export_path", cfg.Export.Path,
		"export_format", cfg.Export.Format,
	)

	return &App{
		Handler: handler.New(handler.Deps{
			Sync:      sync,
			Migration: migration,
			Export:    exporter,
			Store:     backend.Store,
			Location:  loc,
			ChunkSize: cfg.Sync.ChunkSize,
			Logger:    logger,
		}),
		Config:  cfg,
		backend: backend,
	}, nil
}

// Close releases the progress backend.
func (a *App) Close() error {
	return a.backend.Close()
}
