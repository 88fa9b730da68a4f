// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Package api provides the HTTP surface: instance lifecycle and console
// endpoints, chat history, webhook settings, the install pipeline, and
// the viewer websocket upgrade.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/006mi4/gotale/internal/bridge"
	"github.com/006mi4/gotale/internal/config"
	"github.com/006mi4/gotale/internal/install"
	"github.com/006mi4/gotale/internal/manager"
	"github.com/006mi4/gotale/internal/store"
	"github.com/006mi4/gotale/internal/webhook"
	"github.com/006mi4/gotale/internal/websocket"
)

// Router wires handlers onto the chi mux.
type Router struct {
	cfg       *config.Config
	mgr       *manager.Manager
	store     *store.Store
	hub       *websocket.Hub
	bridge    *bridge.Bridge
	webhooks  *webhook.Dispatcher
	installer *install.Installer
}

// New creates a Router over the given collaborators.
func New(cfg *config.Config, mgr *manager.Manager, st *store.Store, hub *websocket.Hub,
	br *bridge.Bridge, wh *webhook.Dispatcher, in *install.Installer) *Router {
	return &Router{
		cfg:       cfg,
		mgr:       mgr,
		store:     st,
		hub:       hub,
		bridge:    br,
		webhooks:  wh,
		installer: in,
	}
}

// Setup builds the full route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", router.health)
	r.Handle("/metrics", promhttp.Handler())

	// The viewer websocket is excluded from rate limiting; it is one
	// long-lived request per browser tab.
	r.Get("/ws", router.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.Limit(
			router.cfg.Server.RateLimitReqs,
			router.cfg.Server.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))

		r.Route("/server/{id}", func(r chi.Router) {
			r.Post("/start", router.startInstance)
			r.Post("/stop", router.stopInstance)
			r.Post("/command", router.sendCommand)
			r.Get("/status", router.instanceStatus)
			r.Get("/console", router.consoleTail)
			r.Get("/auth-status", router.authStatus)
			r.Post("/auth-trigger", router.authTrigger)
			r.Get("/chat", router.chatHistory)
			r.Get("/chat/search", router.chatSearch)
			r.Get("/webhooks", router.getWebhooks)
			r.Put("/webhooks", router.setWebhooks)
			r.Get("/webhooks/diagnostics", router.webhookDiagnostics)
			r.Post("/install", router.installInstance)
		})

		r.Post("/download", router.startDownload)
		r.Get("/download/status", router.downloadStatus)
	})

	return r
}

func (router *Router) health(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"viewers": router.hub.GetClientCount(),
	})
}
