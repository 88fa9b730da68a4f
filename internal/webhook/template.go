// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package webhook

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/006mi4/gotale/internal/models"
)

// DefaultTemplates render a Discord-flavored message per event type when
// the operator has not configured a custom template.
var DefaultTemplates = map[string]string{
	models.EventPlayerConnect:    "✅ Player connected: **{player}**",
	models.EventPlayerDisconnect: "👋 Player disconnected: **{player}**",
	models.EventPlayerDeath:      "💀 Player death: **{player}** ({cause}) in **{world}**",
	models.EventPlayerChat:       "💬 **{player}**: {message}",
}

// templateKeys are the placeholders a template may reference, resolved
// from the raw event payload. Unknown payload fields are ignored.
var templateKeys = []string{"player", "uuid", "world", "cause", "message", "tps", "mspt", "timestamp"}

// placeholderDefaults fill in when the payload omits a referenced field.
var placeholderDefaults = map[string]string{
	"player": "Unknown",
	"world":  "unknown",
	"cause":  "unknown",
}

// RenderMessage produces the outbound message for an event, or "" when
// nothing should be sent (no template resolves, or it renders empty).
func RenderMessage(event models.BridgeEvent, template string) string {
	if event.Type == "" {
		return ""
	}
	resolved := template
	if resolved == "" {
		resolved = DefaultTemplates[event.Type]
	}
	if resolved == "" {
		return ""
	}

	payload := map[string]interface{}{}
	if len(event.Raw) > 0 {
		// Best effort; a malformed payload still renders defaults.
		_ = json.Unmarshal(event.Raw, &payload)
	}

	for _, key := range templateKeys {
		value := placeholderDefaults[key]
		if v, ok := payload[key]; ok && v != nil {
			value = stringify(v)
		}
		resolved = strings.ReplaceAll(resolved, "{"+key+"}", value)
	}
	return strings.TrimSpace(resolved)
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers arrive as float64; print integers without the
		// trailing ".0" Discord users would see otherwise.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
