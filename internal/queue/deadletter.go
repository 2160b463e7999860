// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package queue

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ErrDeadLetterNotFound is returned for lookups of unknown dead-letter ids.
var ErrDeadLetterNotFound = errors.New("dead-letter entry not found")

const deadLetterPrefix = "dl:"

// DeadLetter is one failed item held for inspection and manual or API-driven
// replay. Persisted as an append-only badger record readable independently
// of the live queue.
type DeadLetter struct {
	Item      Item      `json:"item"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// DeadLetterStore persists items that exhausted their attempt budget.
type DeadLetterStore struct {
	db *badger.DB
}

func newDeadLetterStore(db *badger.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// Add stores a failed item together with its final error.
func (s *DeadLetterStore) Add(item *Item, cause error) error {
	entry := DeadLetter{
		Item:      *item,
		LastError: cause.Error(),
		FailedAt:  time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(deadLetterPrefix+item.ID), data)
	})
}

// Get returns one entry by item id.
func (s *DeadLetterStore) Get(id string) (*DeadLetter, error) {
	var entry DeadLetter
	err := s.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get([]byte(deadLetterPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrDeadLetterNotFound
		}
		if err != nil {
			return err
		}
		return it.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Remove deletes one entry by item id.
func (s *DeadLetterStore) Remove(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(deadLetterPrefix + id))
	})
}

// List returns all entries, oldest failure first.
func (s *DeadLetterStore) List() ([]DeadLetter, error) {
	var entries []DeadLetter
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(deadLetterPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry DeadLetter
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FailedAt.Before(entries[j].FailedAt)
	})
	return entries, nil
}

// Len returns the number of stored entries.
func (s *DeadLetterStore) Len() int {
	count := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(deadLetterPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}

func (s *DeadLetterStore) close() error {
	return s.db.Close()
}
