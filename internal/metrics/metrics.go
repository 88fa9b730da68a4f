// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Package metrics exposes Prometheus instrumentation for the process
// manager, the event bridge, and the webhook dispatch path.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Process manager metrics

	InstancesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotale_instances_running",
			Help: "Number of instance processes currently registered as running",
		},
	)

	InstanceStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotale_instance_starts_total",
			Help: "Total instance start attempts",
		},
		[]string{"result"}, // "ok", "rejected", "spawn_error"
	)

	InstanceStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotale_instance_stops_total",
			Help: "Total instance stop attempts",
		},
		[]string{"result"}, // "graceful", "terminated", "killed", "not_running"
	)

	ConsoleLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotale_console_lines_total",
			Help: "Console lines consumed by the monitor, by source",
		},
		[]string{"source"}, // stdout, stderr, logfile, error
	)

	CommandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotale_commands_sent_total",
			Help: "Commands written to instance stdin",
		},
		[]string{"origin"}, // "operator", "auth"
	)

	AuthTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotale_auth_transitions_total",
			Help: "Authentication state machine transitions",
		},
		[]string{"to"},
	)

	// Event bridge metrics

	BridgeConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gotale_bridge_connected",
			Help: "Whether the event bridge connection for an instance is up",
		},
		[]string{"instance"},
	)

	BridgeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotale_bridge_events_total",
			Help: "Bridge events received, by type",
		},
		[]string{"type"},
	)

	BridgeReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gotale_bridge_reconnects_total",
			Help: "Bridge connection attempts after the first",
		},
	)

	// Webhook dispatch metrics

	WebhookQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gotale_webhook_queue_depth",
			Help: "Pending entries in the per-instance webhook queue",
		},
		[]string{"instance"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotale_webhook_deliveries_total",
			Help: "Webhook delivery outcomes",
		},
		[]string{"result"}, // "sent", "failed", "dropped", "rate_limited"
	)

	// HTTP metrics

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gotale_api_requests_total",
			Help: "Total operator API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	WebSocketViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gotale_websocket_viewers",
			Help: "Connected console viewer clients",
		},
	)
)

// InstanceLabel renders an instance ID as a metric label value.
func InstanceLabel(id int64) string {
	return strconv.FormatInt(id, 10)
}

// RecordAPIRequest increments the API request counter.
func RecordAPIRequest(method, endpoint string, statusCode int) {
	APIRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
}
