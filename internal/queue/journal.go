// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package queue

import (
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/dynolink/dynolink/internal/logging"
)

const journalPrefix = "wal:"

// Journal is the optional write-through persistence for crash recovery.
// Every enqueued item is appended; successful processing confirms (deletes)
// the entry; unconfirmed entries are replayed on restart.
//
// Journal failures never fail the ingest path: losing durability is better
// than losing live telemetry, so Append and Confirm log instead of
// returning errors.
type Journal struct {
	db *badger.DB
}

func newJournal(db *badger.DB) *Journal {
	return &Journal{db: db}
}

// Append journals one enqueued item.
func (j *Journal) Append(item *Item) {
	data, err := json.Marshal(item)
	if err != nil {
		logging.Error().Err(err).Str("item", item.ID).Msg("journal marshal failed")
		return
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(journalPrefix+item.ID), data)
	})
	if err != nil {
		logging.Error().Err(err).Str("item", item.ID).Msg("journal append failed")
	}
}

// Confirm removes a processed (or dead-lettered, or evicted) item from the
// journal.
func (j *Journal) Confirm(id string) {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(journalPrefix + id))
	})
	if err != nil {
		logging.Error().Err(err).Str("item", id).Msg("journal confirm failed")
	}
}

// Replay returns all unconfirmed items in enqueue order.
func (j *Journal) Replay() ([]*Item, error) {
	var items []*Item
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(journalPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var item Item
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return err
			}
			items = append(items, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(a, b int) bool {
		if !items[a].EnqueuedAt.Equal(items[b].EnqueuedAt) {
			return items[a].EnqueuedAt.Before(items[b].EnqueuedAt)
		}
		return items[a].ID < items[b].ID
	})
	return items, nil
}
