// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package queue

import (
	"github.com/dgraph-io/badger/v4"
)

// openStore opens the badger instance backing the dead-letter store and the
// write-through journal. An empty path selects an in-memory store.
func openStore(path string) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithLogger(nil)
	return badger.Open(opts)
}
