// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package protocol

import (
	"bytes"
	"encoding/binary"
)

const (
	// ProviderNameSize is the fixed width of the padded provider name that
	// opens a channel-catalog payload.
	ProviderNameSize = 32

	// ChannelNameSize is the fixed width of the padded channel name inside
	// a descriptor record.
	ChannelNameSize = 30

	// descriptorSize is channelId(2) + vendorTag(1) + reserved(1) +
	// name(30) + unit(2) + padding(4).
	descriptorSize = 2 + 1 + 1 + ChannelNameSize + 2 + 4
)

// ChannelDescriptor describes one physical signal a provider can emit.
// Immutable after discovery; the registry owns descriptor lifetimes.
type ChannelDescriptor struct {
	ChannelID uint16
	VendorTag uint8
	Name      string
	Unit      Unit
}

// DecodeCatalog parses a channel-catalog payload into the provider name and
// its advertised channel descriptors.
//
// The provider name is fixed-width, NUL-padded, and trimmed on decode.
// Trailing bytes beyond a full descriptor record are ignored; hardware
// revisions append vendor extensions there and tolerating them keeps old
// builds compatible with new firmware.
func DecodeCatalog(payload []byte) (string, []ChannelDescriptor, error) {
	if len(payload) < ProviderNameSize {
		return "", nil, malformedf("catalog payload %d bytes, provider name needs %d", len(payload), ProviderNameSize)
	}

	name := trimPadding(payload[:ProviderNameSize])
	records := payload[ProviderNameSize:]

	count := len(records) / descriptorSize
	channels := make([]ChannelDescriptor, 0, count)
	for i := 0; i < count; i++ {
		rec := records[i*descriptorSize : (i+1)*descriptorSize]
		channels = append(channels, ChannelDescriptor{
			ChannelID: binary.BigEndian.Uint16(rec[0:2]),
			VendorTag: rec[2],
			Name:      trimPadding(rec[4 : 4+ChannelNameSize]),
			Unit:      Unit(binary.BigEndian.Uint16(rec[4+ChannelNameSize : 4+ChannelNameSize+2])),
		})
	}
	return name, channels, nil
}

// EncodeCatalog serializes a provider name and channel set into a
// channel-catalog payload. Names longer than their fixed width are truncated.
func EncodeCatalog(providerName string, channels []ChannelDescriptor) []byte {
	buf := make([]byte, ProviderNameSize+len(channels)*descriptorSize)
	copy(buf[:ProviderNameSize], providerName)

	for i, ch := range channels {
		rec := buf[ProviderNameSize+i*descriptorSize:]
		binary.BigEndian.PutUint16(rec[0:2], ch.ChannelID)
		rec[2] = ch.VendorTag
		copy(rec[4:4+ChannelNameSize], ch.Name)
		binary.BigEndian.PutUint16(rec[4+ChannelNameSize:4+ChannelNameSize+2], uint16(ch.Unit))
	}
	return buf
}

// trimPadding removes trailing NUL and space padding from a fixed-width field.
func trimPadding(b []byte) string {
	return string(bytes.TrimRight(b, "\x00 "))
}
