// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package models

// Viewer message types. Producers across the codebase publish with these
// and the websocket layer carries them verbatim.
const (
	MessageConsoleOutput   = "console_output"
	MessageAuthRequired    = "auth_required"
	MessageAuthSuccess     = "auth_success"
	MessageBridgeEvent     = "gotale_event"
	MessageBridgeStatus    = "gotale_status"
	MessageInstallProgress = "install_progress"
	MessagePing            = "ping"
	MessagePong            = "pong"
)
