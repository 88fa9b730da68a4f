// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Bridge event types recognized for durable storage. Anything else is
// broadcast-only.
const (
	EventPlayerConnect    = "player_connect"
	EventPlayerDisconnect = "player_disconnect"
	EventPlayerChat       = "player_chat"
	EventPlayerDeath      = "player_death"
)

// StorableEventTypes is the allow-list of bridge event types persisted by
// the store.
var StorableEventTypes = map[string]bool{
	EventPlayerConnect:    true,
	EventPlayerDisconnect: true,
	EventPlayerChat:       true,
}

// WebhookEventTypes lists the event types that can carry a webhook
// configuration, in display order.
var WebhookEventTypes = []string{
	EventPlayerConnect,
	EventPlayerDisconnect,
	EventPlayerDeath,
	EventPlayerChat,
}

// BridgeEvent is the typed envelope received from the companion plugin's
// websocket API. Raw preserves the full payload for storage and template
// rendering; the named fields are the ones the console itself consumes.
type BridgeEvent struct {
	Type    string          `json:"type"`
	Player  string          `json:"player,omitempty"`
	Message string          `json:"message,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// StoredEvent is a persisted bridge event as returned by the store.
type StoredEvent struct {
	ID         string    `json:"id"`
	InstanceID int64     `json:"server_id"`
	Type       string    `json:"type"`
	Player     string    `json:"player,omitempty"`
	Message    string    `json:"message,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	CreatedAt  time.Time `json:"timestamp"`
}

// WebhookConfig is the per-event-type webhook target configuration.
type WebhookConfig struct {
	URL      string `json:"url"`
	Enabled  bool   `json:"enabled"`
	Template string `json:"template"`
}

// WebhookDiagnostics are observability counters for one instance's
// webhook dispatch path. They are advisory only; dispatch correctness
// never depends on them.
type WebhookDiagnostics struct {
	Connected            bool       `json:"connected"`
	EnqueuedTotal        int64      `json:"enqueued_total"`
	SentTotal            int64      `json:"sent_total"`
	FailedTotal          int64      `json:"failed_total"`
	DroppedTotal         int64      `json:"dropped_total"`
	RateLimitedTotal     int64      `json:"rate_limited_total"`
	LastError            string     `json:"last_error,omitempty"`
	LastErrorCode        int        `json:"last_error_code,omitempty"`
	LastEventType        string     `json:"last_event_type,omitempty"`
	LastSuccessEventType string     `json:"last_success_event_type,omitempty"`
	LastFailureEventType string     `json:"last_failure_event_type,omitempty"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`
	QueueSize            int        `json:"queue_size"`
	QueueCapacity        int        `json:"queue_maxsize"`
	WorkerAlive          bool       `json:"worker_alive"`
	SettingsCacheAge     *float64   `json:"settings_cache_age_seconds,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
