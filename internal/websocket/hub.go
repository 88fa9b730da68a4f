// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Package websocket implements the viewer fan-out: a hub of connected
// operator browsers, each subscribed to the instances it is watching.
// Console lines, auth prompts, bridge events, and status flips all pass
// through here. The hub is purely "publish": producers never block on a
// slow viewer.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/metrics"
)

// Message is one outbound viewer message. InstanceID routes the message
// to clients subscribed to that instance; zero means all clients.
type Message struct {
	Type       string      `json:"type"`
	InstanceID int64       `json:"server_id,omitempty"`
	Data       interface{} `json:"data"`
}

// Hub maintains the set of active viewer clients and broadcasts messages
// to the subscribed subset.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub until the context is canceled, closing all
// clients on shutdown. Designed for suture supervision.
//
// Lifecycle events (register/unregister) are drained before broadcasts so
// client state is consistent when a message fans out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			logging.Info().
				Str("component", "viewer-hub").
				Msg("viewer hub stopped")
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAllClients()
			logging.Info().
				Str("component", "viewer-hub").
				Msg("viewer hub stopped")
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketViewers.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("viewer connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketViewers.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("viewer disconnected")
}

// broadcastToClients fans a message out to subscribed clients in a stable
// order. Clients with a full send buffer are dropped rather than blocking
// the hub.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		if message.InstanceID != 0 && !client.subscribed(message.InstanceID) {
			continue
		}
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WebSocketViewers.Set(float64(len(h.clients)))
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebSocketViewers.Set(0)
}

// Publish queues a message for broadcast without blocking the caller.
// A full broadcast channel drops the message with a warning; viewers are
// an observability surface, never a correctness dependency.
func (h *Hub) Publish(messageType string, instanceID int64, data interface{}) {
	message := Message{
		Type:       messageType,
		InstanceID: instanceID,
		Data:       data,
	}
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().
			Str("message_type", messageType).
			Int64("instance", instanceID).
			Msg("broadcast channel full, dropping message")
	}
}

// GetClientCount returns the number of connected viewers.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
