// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package telemetry defines the canonical normalized sample type shared by
// every adapter, the ingestion queue, and the analysis engine.
package telemetry

import "time"

// Sample is the canonical normalized telemetry unit. Adapters produce
// Samples from raw frames, serial lines, or file rows; the ingestion queue
// and the analysis engine operate on nothing else. Value-typed and immutable.
type Sample struct {
	// SourceID identifies the data source that produced the sample
	// (pinned provider id, serial device path, import file name).
	SourceID string `json:"source_id"`

	// Channel is the canonical semantic name (e.g. "rpm", "afr_front"),
	// never the vendor channel name.
	Channel string `json:"channel"`

	// TimestampMillis is the source timestamp in milliseconds. Sources with
	// no clock of their own stamp samples at read time.
	TimestampMillis int64 `json:"timestamp_ms"`

	// Value is the reading after any mapping transform has been applied.
	Value float64 `json:"value"`
}

// Time returns the sample timestamp as a time.Time.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.TimestampMillis)
}
