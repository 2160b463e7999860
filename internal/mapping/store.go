// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/dynolink/dynolink/internal/protocol"
)

// ErrMappingNotFound is returned when no mapping is stored for a signature.
var ErrMappingNotFound = errors.New("no stored mapping for provider signature")

const mappingPrefix = "map:"

// Signature derives a stable provider identity from its id, host, and
// discovered channel set. Mappings persist across sessions keyed by it, so
// reconnecting the same hardware restores the confirmed mapping without a
// fresh auto-map pass.
func Signature(providerID, host string, channels []protocol.ChannelDescriptor) string {
	sorted := make([]protocol.ChannelDescriptor, len(channels))
	copy(sorted, channels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChannelID < sorted[j].ChannelID })

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", providerID, host)
	for _, ch := range sorted {
		fmt.Fprintf(h, "|%d:%s:%d", ch.ChannelID, ch.Name, ch.Unit)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Record is the persisted form of one provider's mapping.
type Record struct {
	Signature string              `json:"signature"`
	Provider  string              `json:"provider"`
	CreatedAt time.Time           `json:"created_at"`
	Mappings  []MappingConfidence `json:"mappings"`
}

// ExportMapping serializes a mapping set for persistence or transfer.
func ExportMapping(signature, provider string, mappings []MappingConfidence) ([]byte, error) {
	return json.Marshal(Record{
		Signature: signature,
		Provider:  provider,
		CreatedAt: time.Now().UTC(),
		Mappings:  mappings,
	})
}

// ImportMapping deserializes a previously exported mapping record.
func ImportMapping(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("import mapping: %w", err)
	}
	if rec.Signature == "" {
		return nil, errors.New("import mapping: missing provider signature")
	}
	return &rec, nil
}

// Store persists mapping records keyed by provider signature.
type Store struct {
	db *badger.DB
}

// NewStore wraps an open badger instance.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Save stores (or replaces) the mapping record for its signature.
func (s *Store) Save(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal mapping record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(mappingPrefix+rec.Signature), data)
	})
}

// Load returns the mapping record for a signature.
func (s *Store) Load(signature string) (*Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get([]byte(mappingPrefix + signature))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrMappingNotFound
		}
		if err != nil {
			return err
		}
		return it.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every stored mapping record.
func (s *Store) List() ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(mappingPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}
