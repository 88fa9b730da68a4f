// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/006mi4/gotale/internal/install"
)

func (router *Router) startDownload(w http.ResponseWriter, r *http.Request) {
	// The download outlives the request; do not tie it to r.Context().
	if err := router.installer.StartDownload(context.Background()); err != nil {
		if errors.Is(err, install.ErrBusy) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusAccepted, nil)
}

func (router *Router) downloadStatus(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, router.installer.Status())
}

func (router *Router) installInstance(w http.ResponseWriter, r *http.Request) {
	id, err := instanceID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid instance id")
		return
	}

	if err := router.installer.PopulateInstance(id); err != nil {
		respondError(w, http.StatusPreconditionFailed, err.Error())
		return
	}
	respondData(w, http.StatusOK, nil)
}
