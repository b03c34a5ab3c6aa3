// Bastionmap - SSH Failed-Login Analytics and Live Attack Map
// Copyright 2026 Bastionmap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionmap/bastionmap

// Command server runs the Bastionmap daemon: it tails the sshd auth log,
// enriches failed logins with geolocation, persists them to Postgres and
// serves the REST API plus the live websocket attack map.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bastionmap/bastionmap/internal/api"
	"github.com/bastionmap/bastionmap/internal/broadcast"
	"github.com/bastionmap/bastionmap/internal/cache"
	"github.com/bastionmap/bastionmap/internal/config"
	"github.com/bastionmap/bastionmap/internal/geo"
	"github.com/bastionmap/bastionmap/internal/ingest"
	"github.com/bastionmap/bastionmap/internal/logging"
	"github.com/bastionmap/bastionmap/internal/parser"
	"github.com/bastionmap/bastionmap/internal/store"
	"github.com/bastionmap/bastionmap/internal/supervisor"
	ws "github.com/bastionmap/bastionmap/internal/websocket"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr()).
		Str("log_path", cfg.Ingest.LogPath).
		Msg("bastionmap starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.Migrate {
		if err := store.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
			return err
		}
		logging.Info().Msg("database migrations applied")
	}

	db, err := store.New(ctx, store.Options{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	snapshotCache := cache.New(cfg.Broadcast.SnapshotTTL)
	defer snapshotCache.Close()

	provider := geo.NewIPAPIProvider(geo.IPAPIOptions{
		BaseURL:           cfg.GeoIP.BaseURL,
		Timeout:           cfg.GeoIP.Timeout,
		RequestsPerMinute: cfg.GeoIP.RequestsPerMinute,
	})
	resolver := geo.NewResolver(provider, geo.ResolverOptions{
		RetryAttempts: cfg.GeoIP.RetryAttempts,
		RetryDelay:    cfg.GeoIP.RetryDelay,
	})

	hub := ws.NewHub()

	manager := ingest.NewManager(
		ingest.NewTailer(cfg.Ingest.LogPath, 0),
		parser.New(),
		resolver,
		db,
		ingest.ManagerOptions{
			Interval:      cfg.Ingest.Interval,
			BatchSize:     cfg.Ingest.BatchSize,
			RetryAttempts: cfg.Database.RetryAttempts,
			RetryDelay:    cfg.Database.RetryDelay,
		},
	)

	broadcaster := broadcast.New(db, hub, snapshotCache, broadcast.Options{
		Interval:    cfg.Broadcast.Interval,
		SnapshotTTL: cfg.Broadcast.SnapshotTTL,
		Limit:       cfg.Broadcast.SnapshotLimit,
		PerCityCap:  cfg.Broadcast.PerCityCap,
	})

	handler := api.NewHandler(db, hub, broadcaster, cfg)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler, cfg),
		ReadHeaderTimeout: cfg.Server.Timeout,
		WriteTimeout:      0, // websocket connections are long-lived
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(hub)
	tree.AddPipelineService(manager)
	tree.AddPipelineService(broadcaster)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, supervisor.DefaultTreeConfig().ShutdownTimeout))

	logging.Info().Msg("supervisor tree starting")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop within timeout")
		}
	}

	logging.Info().Msg("bastionmap stopped")
	return nil
}
