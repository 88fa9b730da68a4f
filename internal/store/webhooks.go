// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/006mi4/gotale/internal/models"
)

const webhookKeyPrefix = "webhook:"

// Webhooks returns the per-event-type webhook configuration for an
// instance. Event types with no stored entry come back zero-valued so
// callers always see the full set.
func (s *Store) Webhooks(instanceID int64) (map[string]models.WebhookConfig, error) {
	result := make(map[string]models.WebhookConfig, len(models.WebhookEventTypes))
	for _, key := range models.WebhookEventTypes {
		result[key] = models.WebhookConfig{}
	}

	var stored map[string]models.WebhookConfig
	key := webhookKey(instanceID)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get webhook settings: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		return nil, err
	}

	for eventType, cfg := range stored {
		if _, known := result[eventType]; known {
			result[eventType] = cfg
		}
	}
	return result, nil
}

// SetWebhooks persists the webhook configuration for an instance.
// Unknown event types are discarded; an entry with no URL is stored
// disabled regardless of its enabled flag.
func (s *Store) SetWebhooks(instanceID int64, settings map[string]models.WebhookConfig) error {
	normalized := make(map[string]models.WebhookConfig, len(models.WebhookEventTypes))
	for _, eventType := range models.WebhookEventTypes {
		cfg := settings[eventType]
		cfg.URL = strings.TrimSpace(cfg.URL)
		if cfg.URL == "" {
			cfg.Enabled = false
		}
		normalized[eventType] = cfg
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("marshal webhook settings: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(webhookKey(instanceID), data)
	})
}

func webhookKey(instanceID int64) []byte {
	return []byte(fmt.Sprintf("%s%d", webhookKeyPrefix, instanceID))
}
