// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Package models defines the shared data types exchanged between the
// process manager, the event bridge, the store, and the HTTP layer.
package models

import "time"

// InstanceState is the externally visible lifecycle label of a managed
// server instance.
type InstanceState string

const (
	StateOffline  InstanceState = "offline"
	StateStarting InstanceState = "starting"
	StateOnline   InstanceState = "online"
	StateStopping InstanceState = "stopping"
)

// InstanceStatus is the combined registry-plus-liveness view returned by
// the manager. Running reflects an actual non-blocking exit poll, so a
// caller can observe a running→not-running transition at query time.
type InstanceStatus struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name,omitempty"`
	State     InstanceState `json:"state"`
	Running   bool          `json:"running"`
	PID       int           `json:"pid,omitempty"`
	Port      int           `json:"port,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	AuthState string        `json:"auth_state"`
}

// ConsoleLine is one rendered line of console output together with the
// source it came from (stdout, stderr, logfile, or a synthetic error).
type ConsoleLine struct {
	InstanceID int64  `json:"server_id"`
	Source     string `json:"type"`
	Text       string `json:"message"`
}

// Console line sources.
const (
	SourceStdout  = "stdout"
	SourceStderr  = "stderr"
	SourceLogFile = "logfile"
	SourceError   = "error"
)

// AuthPrompt is the canonical URL+code pair broadcast to viewers when the
// managed process asks for device-code authentication.
type AuthPrompt struct {
	InstanceID int64  `json:"server_id"`
	URL        string `json:"url"`
	Code       string `json:"code,omitempty"`
}

// AuthRecord is what the record keeper stores once an instance has
// durable credentials on disk.
type AuthRecord struct {
	InstanceID     int64     `json:"server_id"`
	CredentialPath string    `json:"credential_path"`
	Verified       bool      `json:"verified"`
	UpdatedAt      time.Time `json:"updated_at"`
}
