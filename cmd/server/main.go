// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Command server runs the GoTale daemon: the process supervisor, the
// companion-plugin event bridge, and the operator HTTP/WebSocket surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/006mi4/gotale/internal/api"
	"github.com/006mi4/gotale/internal/bridge"
	"github.com/006mi4/gotale/internal/config"
	"github.com/006mi4/gotale/internal/install"
	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/manager"
	"github.com/006mi4/gotale/internal/store"
	"github.com/006mi4/gotale/internal/supervisor"
	"github.com/006mi4/gotale/internal/supervisor/services"
	"github.com/006mi4/gotale/internal/webhook"
	"github.com/006mi4/gotale/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Bool("bridge", cfg.Bridge.Enabled).
		Msg("starting gotale")

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Warn().Err(err).Msg("store close failed")
		}
	}()

	hub := websocket.NewHub()
	mgr := manager.New(cfg, st, hub)
	webhooks := webhook.New(st)
	br := bridge.New(cfg.Bridge, st, hub, webhooks)
	installer := install.New(cfg.Paths, hub)

	router := api.New(cfg, mgr, st, hub, br, webhooks, installer)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddStorageService(services.NewStoreGCService(st))
	tree.AddServingService(services.NewWebSocketHubService(hub))
	tree.AddServingService(services.NewHTTPServerService(httpServer, cfg.Server.Timeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := tree.Root().ServeBackground(ctx)

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received")
		treeErr = <-errCh
	case treeErr = <-errCh:
	}
	stop()

	// Tear down in dependency order: instances first, then the bridge
	// links and webhook workers they fed.
	mgr.Shutdown()
	br.Close()
	webhooks.Close()

	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		return fmt.Errorf("supervision tree failed: %w", treeErr)
	}
	logging.Info().Msg("gotale stopped")
	return nil
}
