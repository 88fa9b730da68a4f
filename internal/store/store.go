// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

// Package store provides the Badger-backed record keeper consumed by the
// console monitor and the event bridge: durable bridge events (the chat
// log) and per-instance authentication records.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/006mi4/gotale/internal/config"
	"github.com/006mi4/gotale/internal/logging"
	"github.com/006mi4/gotale/internal/models"
)

// Key prefixes. Event keys embed a zero-padded nanosecond timestamp so a
// prefix iteration yields chronological order.
const (
	eventKeyPrefix = "event:"
	authKeyPrefix  = "auth:"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store wraps a Badger database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at the configured path.
func Open(cfg config.StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	// Badger logs through its own interface; route it to zerolog.
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendEvent persists a bridge event if its type is in the storage
// allow-list. Non-storable types are ignored without error, matching the
// bridge's best-effort contract.
func (s *Store) AppendEvent(instanceID int64, ev models.BridgeEvent) error {
	if !models.StorableEventTypes[ev.Type] {
		return nil
	}

	rec := models.StoredEvent{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Type:       ev.Type,
		Player:     ev.Player,
		CreatedAt:  time.Now().UTC(),
	}
	if ev.Type == models.EventPlayerChat {
		rec.Message = ev.Message
	}
	if len(ev.Raw) > 0 {
		rec.Payload = string(ev.Raw)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := eventKey(instanceID, rec.CreatedAt, rec.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// RecentChat returns up to limit chat events for the instance, oldest
// first.
func (s *Store) RecentChat(instanceID int64, limit int) ([]models.StoredEvent, error) {
	return s.scanChat(instanceID, limit, func(models.StoredEvent) bool { return true })
}

// SearchChat returns up to limit chat events whose player or message
// contains query (case-insensitive), oldest first.
func (s *Store) SearchChat(instanceID int64, query string, limit int) ([]models.StoredEvent, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	return s.scanChat(instanceID, limit, func(ev models.StoredEvent) bool {
		return strings.Contains(strings.ToLower(ev.Message), q) ||
			strings.Contains(strings.ToLower(ev.Player), q)
	})
}

// scanChat iterates the instance's events newest-first, keeps matching
// chat rows up to limit, then reverses to chronological order.
func (s *Store) scanChat(instanceID int64, limit int, match func(models.StoredEvent) bool) ([]models.StoredEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 500 {
		limit = 500
	}

	prefix := []byte(fmt.Sprintf("%s%d:", eventKeyPrefix, instanceID))
	var out []models.StoredEvent

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// Reverse iteration must seek past the last key in the prefix range.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var ev models.StoredEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if ev.Type != models.EventPlayerChat || !match(ev) {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Newest-first to oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MarkAuthenticated records that an instance holds credentials at path.
// Verified distinguishes "the server claimed success" from "the artifact
// was observed on disk".
func (s *Store) MarkAuthenticated(instanceID int64, credentialPath string, verified bool) error {
	rec := models.AuthRecord{
		InstanceID:     instanceID,
		CredentialPath: credentialPath,
		Verified:       verified,
		UpdatedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal auth record: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%d", authKeyPrefix, instanceID))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Authentication returns the stored auth record for an instance, or
// ErrNotFound.
func (s *Store) Authentication(instanceID int64) (*models.AuthRecord, error) {
	var rec models.AuthRecord
	key := []byte(fmt.Sprintf("%s%d", authKeyPrefix, instanceID))

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get auth record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func eventKey(instanceID int64, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%d:%020d:%s", eventKeyPrefix, instanceID, ts.UnixNano(), id))
}

// badgerLogger adapts Badger's logger interface onto zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Msgf("badger: "+strings.TrimSpace(format), args...)
}
