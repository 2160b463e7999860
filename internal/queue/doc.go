// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package queue implements the bounded, priority-ordered ingestion queue
// that decouples protocol readers from the aggregation engine.
//
// Ordering is {priority, enqueue sequence}: higher priority tiers always
// drain first, and within a tier items keep FIFO order. Enqueue never
// blocks; on overflow the oldest item of the least important admissible
// tier is dropped and counted.
//
// A background processor drains batches on a fixed interval (or on Flush)
// and hands items to the configured handler. Items that keep failing past
// the attempt budget move to a badger-backed dead-letter store where they
// stay inspectable and individually retryable. Optional write-through
// persistence journals every enqueued item to the same badger instance so
// a crash replays unprocessed telemetry on restart.
package queue
