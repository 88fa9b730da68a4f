// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package services

import (
	"context"
)

// GCRunner matches *store.Store's maintenance loop.
type GCRunner interface {
	RunGC(ctx context.Context) error
}

// StoreGCService supervises the Badger value-log garbage collector.
type StoreGCService struct {
	store GCRunner
}

// NewStoreGCService wraps a store.
func NewStoreGCService(store GCRunner) *StoreGCService {
	return &StoreGCService{store: store}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	return s.store.RunGC(ctx)
}

func (s *StoreGCService) String() string { return "store-gc" }
