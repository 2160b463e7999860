// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/dynolink/dynolink/internal/telemetry"
)

// Priority orders queue items. Lower values drain first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBatch

	numPriorities = int(PriorityBatch) + 1
)

// String returns the priority name for logs and metrics labels.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// valid reports whether p is a defined priority tier.
func (p Priority) valid() bool {
	return p >= PriorityCritical && p <= PriorityBatch
}

// Item is one unit of queued work: a sample batch from a single source.
// Owned exclusively by the queue; no other component mutates its state.
type Item struct {
	// ID uniquely identifies the item across the queue, WAL, and dead-letter
	// store.
	ID string `json:"id"`

	// Priority is the item's drain tier.
	Priority Priority `json:"priority"`

	// Samples is the payload: one sample or a batch from the same source.
	Samples []telemetry.Sample `json:"samples"`

	// EnqueuedAt is when the item entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempts counts handler invocations for this item.
	Attempts int `json:"attempts"`

	// seq is the queue-assigned enqueue sequence, used for stable FIFO
	// ordering within a priority tier.
	seq uint64
}

// NewItem builds a queue item around a sample batch.
func NewItem(priority Priority, samples []telemetry.Sample) *Item {
	return &Item{
		ID:         uuid.New().String(),
		Priority:   priority,
		Samples:    samples,
		EnqueuedAt: time.Now(),
	}
}
