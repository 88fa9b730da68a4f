// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Package bridge maintains one persistent outbound WebSocket connection
// per instance to the GoTale companion plugin's local API. Events flow
// from the plugin into durable storage, the viewer hub, and the webhook
// dispatcher. The connection is independent of the game process itself:
// when nothing is listening the dial simply fails and retries.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/006mi4/gotale/internal/config"
	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/metrics"
	"github.com/006mi4/gotale/internal/models"
)

const (
	keepaliveInterval = 25 * time.Second
	reconnectDelay    = 5 * time.Second
	dialTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
)

// EventStore persists inbound bridge events.
type EventStore interface {
	AppendEvent(instanceID int64, ev models.BridgeEvent) error
}

// Broadcaster fans events and status flips out to viewers.
type Broadcaster interface {
	Publish(messageType string, instanceID int64, data interface{})
}

// EventSink receives every recognized event for webhook dispatch.
type EventSink interface {
	Dispatch(instanceID int64, event models.BridgeEvent)
}

// link is the supervision state of one instance's connection loop.
type link struct {
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool
}

// Bridge owns the per-instance connection loops.
type Bridge struct {
	cfg      config.BridgeConfig
	store    EventStore
	bc       Broadcaster
	webhooks EventSink

	mu    sync.Mutex
	links map[int64]*link
}

// New creates a Bridge. Connections are established per instance via
// Ensure.
func New(cfg config.BridgeConfig, store EventStore, bc Broadcaster, webhooks EventSink) *Bridge {
	return &Bridge{
		cfg:      cfg,
		store:    store,
		bc:       bc,
		webhooks: webhooks,
		links:    make(map[int64]*link),
	}
}

// Ensure starts the connection loop for an instance if it is not already
// running. A no-op when the bridge is disabled by configuration.
func (b *Bridge) Ensure(instanceID int64) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, running := b.links[instanceID]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &link{cancel: cancel, done: make(chan struct{})}
	b.links[instanceID] = l
	go b.runLoop(ctx, instanceID, l)
}

// StopInstance tears the instance's connection loop down and waits for
// it to exit.
func (b *Bridge) StopInstance(instanceID int64) {
	b.mu.Lock()
	l, ok := b.links[instanceID]
	if ok {
		delete(b.links, instanceID)
	}
	b.mu.Unlock()
	if ok {
		l.cancel()
		<-l.done
	}
}

// Close tears down every connection loop.
func (b *Bridge) Close() {
	b.mu.Lock()
	links := make([]*link, 0, len(b.links))
	for id, l := range b.links {
		links = append(links, l)
		delete(b.links, id)
	}
	b.mu.Unlock()

	for _, l := range links {
		l.cancel()
		<-l.done
	}
}

// Connected reports whether the instance's bridge connection is up.
func (b *Bridge) Connected(instanceID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.links[instanceID]
	return ok && l.connected
}

func (b *Bridge) setConnected(instanceID int64, l *link, connected bool) {
	b.mu.Lock()
	l.connected = connected
	b.mu.Unlock()

	v := 0.0
	if connected {
		v = 1.0
	}
	metrics.BridgeConnected.WithLabelValues(metrics.InstanceLabel(instanceID)).Set(v)
	b.bc.Publish(models.MessageBridgeStatus, instanceID, map[string]interface{}{
		"server_id": instanceID,
		"connected": connected,
	})
}

// runLoop dials, pumps messages until the connection drops, then sleeps
// and retries until torn down.
func (b *Bridge) runLoop(ctx context.Context, instanceID int64, l *link) {
	defer close(l.done)
	defer b.setConnected(instanceID, l, false)

	candidates := b.candidateURLs(instanceID)
	header := b.dialHeader()

	for {
		var conn *websocket.Conn
		for _, candidate := range candidates {
			dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
			c, resp, err := dialer.DialContext(ctx, candidate, header)
			if resp != nil {
				resp.Body.Close()
			}
			if err == nil {
				conn = c
				logging.Info().Int64("instance", instanceID).Str("url", candidate).Msg("bridge connected")
				break
			}
			logging.Debug().Err(err).Int64("instance", instanceID).Str("url", candidate).
				Msg("bridge dial failed")
		}

		if conn != nil {
			b.setConnected(instanceID, l, true)
			b.pump(ctx, instanceID, conn)
			b.setConnected(instanceID, l, false)
			metrics.BridgeReconnects.Inc()
			logging.Info().Int64("instance", instanceID).Msg("bridge disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// pump runs one connection: a keepalive writer on the side and a read
// loop on the caller's goroutine. Returns when the connection drops or
// ctx is canceled.
func (b *Bridge) pump(ctx context.Context, instanceID int64, conn *websocket.Conn) {
	defer conn.Close()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go keepalive(pingCtx, conn)

	// Unblock the read loop on teardown.
	go func() {
		<-pingCtx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logging.Debug().Err(err).Int64("instance", instanceID).Msg("bridge read failed")
			}
			return
		}
		b.handleMessage(instanceID, data)
	}
}

// keepalive sends an application-level ping the plugin expects, every
// 25s, until the connection context ends.
func keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(map[string]string{"type": "ping"})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one inbound frame. Frames without a recognized
// type field are ignored; everything else is stored (allow-list applies
// downstream), broadcast, and offered to the webhook dispatcher.
func (b *Bridge) handleMessage(instanceID int64, data []byte) {
	var event models.BridgeEvent
	if err := json.Unmarshal(data, &event); err != nil || event.Type == "" {
		return
	}
	event.Raw = append(json.RawMessage{}, data...)

	metrics.BridgeEvents.WithLabelValues(event.Type).Inc()

	if err := b.store.AppendEvent(instanceID, event); err != nil {
		logging.Warn().Err(err).Int64("instance", instanceID).Str("type", event.Type).
			Msg("failed to store bridge event")
	}

	b.bc.Publish(models.MessageBridgeEvent, instanceID, map[string]interface{}{
		"server_id": instanceID,
		"event":     json.RawMessage(event.Raw),
	})

	b.webhooks.Dispatch(instanceID, event)
}

// candidateURLs builds the connection attempts for an instance: the
// configured scheme first, plus a plain-ws fallback when the secure
// variant is configured but not forced.
func (b *Bridge) candidateURLs(instanceID int64) []string {
	scheme := b.cfg.Scheme
	if scheme == "" || scheme == "auto" {
		scheme = "ws"
		if b.cfg.AuthEnabled {
			scheme = "wss"
		}
	}

	path := b.cfg.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	hostPort := fmt.Sprintf("%s:%d", b.cfg.Host, int64(b.cfg.PortBase)+instanceID)

	urls := []string{scheme + "://" + hostPort + path}
	if scheme == "wss" && b.cfg.InsecureFallback {
		urls = append(urls, "ws://"+hostPort+path)
	}

	if b.cfg.AuthEnabled && b.cfg.AuthToken != "" && b.cfg.AuthQueryParam != "" {
		for i, u := range urls {
			urls[i] = withTokenQuery(u, b.cfg.AuthQueryParam, b.cfg.AuthToken)
		}
	}
	return urls
}

// dialHeader carries the bearer token when auth is enabled and no query
// parameter is configured for it.
func (b *Bridge) dialHeader() http.Header {
	if !b.cfg.AuthEnabled || b.cfg.AuthToken == "" || b.cfg.AuthQueryParam != "" {
		return nil
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+b.cfg.AuthToken)
	return header
}

func withTokenQuery(rawURL, param, token string) string {
	if strings.Contains(rawURL, param+"=") {
		return rawURL
	}
	separator := "?"
	if strings.Contains(rawURL, "?") {
		separator = "&"
	}
	return rawURL + separator + param + "=" + url.QueryEscape(token)
}
