// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package protocol

import (
	"encoding/binary"
	"math"
)

// valueRecordSize is channelId(2) + timestampMillis(4) + value(8).
const valueRecordSize = 2 + 4 + 8

// ValueRecord is one channel reading inside a channel-values payload.
type ValueRecord struct {
	ChannelID       uint16
	TimestampMillis uint32
	Value           float64
}

// DecodeValues parses a channel-values payload into its value records.
// A trailing partial record is discarded; bursty hardware occasionally
// truncates the final record when a frame is cut at the MTU boundary.
func DecodeValues(payload []byte) []ValueRecord {
	count := len(payload) / valueRecordSize
	if count == 0 {
		return nil
	}

	records := make([]ValueRecord, 0, count)
	for i := 0; i < count; i++ {
		rec := payload[i*valueRecordSize : (i+1)*valueRecordSize]
		records = append(records, ValueRecord{
			ChannelID:       binary.BigEndian.Uint16(rec[0:2]),
			TimestampMillis: binary.BigEndian.Uint32(rec[2:6]),
			Value:           math.Float64frombits(binary.BigEndian.Uint64(rec[6:14])),
		})
	}
	return records
}

// EncodeValues serializes value records into a channel-values payload.
func EncodeValues(records []ValueRecord) []byte {
	buf := make([]byte, len(records)*valueRecordSize)
	for i, r := range records {
		rec := buf[i*valueRecordSize:]
		binary.BigEndian.PutUint16(rec[0:2], r.ChannelID)
		binary.BigEndian.PutUint32(rec[2:6], r.TimestampMillis)
		binary.BigEndian.PutUint64(rec[6:14], math.Float64bits(r.Value))
	}
	return buf
}
