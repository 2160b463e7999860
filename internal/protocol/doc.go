// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package protocol implements the binary wire format spoken by dyno
// data-acquisition hardware on the UDP multicast link.
//
// A frame on the wire is laid out big-endian as:
//
//	[key:u8][length:u16][originId:8][sequence:u32][destinationId:8][payload]
//
// where length covers the entire frame including the header. Payloads are
// fixed-width record arrays: channel catalogs carry a padded provider name
// followed by 40-byte channel descriptor records, and value frames carry
// 14-byte {channelId, timestampMillis, value} records.
//
// The codec is pure: no I/O, no global state, fully deterministic. Decoding
// is tolerant of trailing partial records (they are discarded, not rejected)
// but strict about the frame length field. Unknown keys decode successfully
// and are surfaced as UnknownFrameError so callers can ignore or log them.
package protocol
