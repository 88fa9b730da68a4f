// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// clientIDCounter hands out stable ordering keys for broadcast iteration.
var clientIDCounter atomic.Uint64

// Client is a middleman between one viewer's websocket connection and the
// hub. Viewers pick which instances they watch by sending subscribe /
// unsubscribe messages.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	subMu         sync.RWMutex
	subscriptions map[int64]bool
}

// inboundMessage is what a viewer may send: subscription changes or pings.
type inboundMessage struct {
	Type       string `json:"type"`
	InstanceID int64  `json:"server_id,omitempty"`
}

// NewClient creates a client for an accepted websocket connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            clientIDCounter.Add(1),
		hub:           hub,
		conn:          conn,
		send:          make(chan Message, 256),
		subscriptions: make(map[int64]bool),
	}
}

// Subscribe adds an instance to the client's watch set.
func (c *Client) Subscribe(instanceID int64) {
	c.subMu.Lock()
	c.subscriptions[instanceID] = true
	c.subMu.Unlock()
}

// Unsubscribe removes an instance from the client's watch set.
func (c *Client) Unsubscribe(instanceID int64) {
	c.subMu.Lock()
	delete(c.subscriptions, instanceID)
	c.subMu.Unlock()
}

func (c *Client) subscribed(instanceID int64) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[instanceID]
}

// readPump pumps inbound messages from the connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close")
			}
			break
		}

		switch msg.Type {
		case "subscribe":
			c.Subscribe(msg.InstanceID)
		case "unsubscribe":
			c.Unsubscribe(msg.InstanceID)
		case models.MessagePing:
			select {
			case c.send <- Message{Type: models.MessagePong}:
			default:
			}
		}
	}
}

// writePump pumps hub messages to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write viewer message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins the client's read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
