// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/manager"
	"github.com/006mi4/gotale/internal/metrics"
	"github.com/006mi4/gotale/internal/models"
	"github.com/006mi4/gotale/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// instanceID extracts and parses the {id} route parameter.
func instanceID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// startRequest is the POST /start body.
type startRequest struct {
	Port     int    `json:"port" validate:"gte=1,lte=65535"`
	JavaArgs string `json:"java_args"`
	Name     string `json:"name"`
}

func (router *Router) startInstance(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "port must be between 1 and 65535")
		return
	}

	if err := router.mgr.Start(id, req.Port, req.JavaArgs, req.Name); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, manager.ErrAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, manager.ErrFilesMissing):
			status = http.StatusPreconditionFailed
		}
		metrics.RecordAPIRequest(r.Method, "/start", status)
		respondError(w, status, err.Error())
		return
	}

	router.bridge.Ensure(id)
	metrics.RecordAPIRequest(r.Method, "/start", http.StatusOK)
	respondData(w, http.StatusOK, router.mgr.Status(id))
}

func (router *Router) stopInstance(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	if err := router.mgr.Stop(id); err != nil {
		if errors.Is(err, manager.ErrNotRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	router.bridge.StopInstance(id)
	router.webhooks.StopInstance(id)
	respondData(w, http.StatusOK, router.mgr.Status(id))
}

// commandRequest is the POST /command body.
type commandRequest struct {
	Command string `json:"command" validate:"required"`
}

func (router *Router) sendCommand(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "command is required")
		return
	}

	if err := router.mgr.SendCommand(id, req.Command); err != nil {
		if errors.Is(err, manager.ErrNotRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, nil)
}

func (router *Router) instanceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}
	st := router.mgr.Status(id)
	respondData(w, http.StatusOK, map[string]interface{}{
		"status":           st,
		"bridge_connected": router.bridge.Connected(id),
	})
}

func (router *Router) consoleTail(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	lines := queryInt(r, "lines", 100)
	tail := router.mgr.ConsoleTail(id, lines)
	if tail == nil {
		tail = []string{}
	}
	respondData(w, http.StatusOK, map[string]interface{}{
		"server_id": id,
		"lines":     tail,
	})
}

func (router *Router) authStatus(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	resp := map[string]interface{}{
		"server_id":  id,
		"auth_state": router.mgr.Status(id).AuthState,
	}
	if rec, err := router.store.Authentication(id); err == nil {
		resp["credential_path"] = rec.CredentialPath
		resp["verified"] = rec.Verified
		resp["updated_at"] = rec.UpdatedAt
	} else if !errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, resp)
}

// authTriggerRequest selects which auth command to force.
type authTriggerRequest struct {
	Action string `json:"action" validate:"required,oneof=login status"`
}

func (router *Router) authTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	var req authTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "action must be login or status")
		return
	}

	command := "/auth status"
	if req.Action == "login" {
		command = "/auth login device"
	}
	if err := router.mgr.SendCommand(id, command); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondData(w, http.StatusOK, nil)
}

func (router *Router) chatHistory(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	events, err := router.store.RecentChat(id, queryInt(r, "limit", 200))
	if err != nil {
		logging.Error().Err(err).Int64("instance", id).Msg("chat history query failed")
		respondError(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}
	respondData(w, http.StatusOK, events)
}

func (router *Router) chatSearch(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	events, err := router.store.SearchChat(id, query, queryInt(r, "limit", 200))
	if err != nil {
		logging.Error().Err(err).Int64("instance", id).Msg("chat search failed")
		respondError(w, http.StatusInternalServerError, "failed to search chat history")
		return
	}
	respondData(w, http.StatusOK, events)
}

func (router *Router) getWebhooks(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	settings, err := router.store.Webhooks(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load webhook settings")
		return
	}
	respondData(w, http.StatusOK, settings)
}

func (router *Router) setWebhooks(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	var settings map[string]models.WebhookConfig
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := router.store.SetWebhooks(id, settings); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save webhook settings")
		return
	}
	router.webhooks.InvalidateSettings(id)
	respondData(w, http.StatusOK, nil)
}

func (router *Router) webhookDiagnostics(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	diag := router.webhooks.Diagnostics(id)
	diag.Connected = router.bridge.Connected(id)
	respondData(w, http.StatusOK, diag)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
