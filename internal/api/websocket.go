// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package api

import (
	"net/http"

	gorilla "github.com/gorilla/websocket"

	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/websocket"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS middleware; the
	// upgrade itself accepts any origin the browser let through.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS upgrades a viewer connection and registers it with the hub.
// Instance subscriptions arrive as messages on the socket itself.
func (router *Router) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(router.hub, conn)
	router.hub.Register <- client
	client.Start()
}
