// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/006mi4/gotale/internal/logging"
)

// Response is the uniform envelope for every API endpoint.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func respondData(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, Response{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, Response{Success: false, Error: message})
}
