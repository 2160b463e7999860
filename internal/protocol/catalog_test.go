// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRoundTrip(t *testing.T) {
	channels := []ChannelDescriptor{
		{ChannelID: 1, VendorTag: 3, Name: "Engine Speed", Unit: UnitRPM},
		{ChannelID: 2, VendorTag: 3, Name: "Wideband 1", Unit: UnitAFR},
		{ChannelID: 7, VendorTag: 0, Name: "MAP", Unit: UnitKPa},
	}

	payload := EncodeCatalog("DynoJet 250i", channels)
	name, decoded, err := DecodeCatalog(payload)
	require.NoError(t, err)

	assert.Equal(t, "DynoJet 250i", name)
	assert.Equal(t, channels, decoded)
}

func TestCatalogEmptyChannelSet(t *testing.T) {
	payload := EncodeCatalog("Bare Provider", nil)
	name, decoded, err := DecodeCatalog(payload)
	require.NoError(t, err)
	assert.Equal(t, "Bare Provider", name)
	assert.Empty(t, decoded)
}

func TestCatalogTruncatedName(t *testing.T) {
	_, _, err := DecodeCatalog(make([]byte, ProviderNameSize-1))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestCatalogTolerantOfTrailingBytes(t *testing.T) {
	channels := []ChannelDescriptor{
		{ChannelID: 1, Name: "RPM", Unit: UnitRPM},
	}
	payload := EncodeCatalog("P", channels)

	// Vendor extension bytes after the last full record are ignored.
	payload = append(payload, 0xab, 0xcd, 0xef)

	name, decoded, err := DecodeCatalog(payload)
	require.NoError(t, err)
	assert.Equal(t, "P", name)
	require.Len(t, decoded, 1)
	assert.Equal(t, uint16(1), decoded[0].ChannelID)
}

func TestCatalogLongNamesTruncated(t *testing.T) {
	long := "this channel name is far longer than the thirty byte field allows"
	payload := EncodeCatalog("P", []ChannelDescriptor{{ChannelID: 1, Name: long, Unit: UnitNone}})

	_, decoded, err := DecodeCatalog(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, long[:ChannelNameSize], decoded[0].Name)
}

func TestValuesRoundTrip(t *testing.T) {
	records := []ValueRecord{
		{ChannelID: 1, TimestampMillis: 1000, Value: 4250.0},
		{ChannelID: 2, TimestampMillis: 1001, Value: 13.2},
		{ChannelID: 7, TimestampMillis: 1002, Value: -12.5},
	}

	decoded := DecodeValues(EncodeValues(records))
	assert.Equal(t, records, decoded)
}

func TestValuesTrailingPartialRecordDiscarded(t *testing.T) {
	records := []ValueRecord{{ChannelID: 1, TimestampMillis: 5, Value: 1.0}}
	payload := EncodeValues(records)

	// Cut mid-record: the partial tail must be discarded, not rejected.
	payload = append(payload, payload[:valueRecordSize-3]...)

	decoded := DecodeValues(payload)
	require.Len(t, decoded, 1)
	assert.Equal(t, records[0], decoded[0])
}

func TestValuesEmptyPayload(t *testing.T) {
	assert.Nil(t, DecodeValues(nil))
	assert.Nil(t, DecodeValues(make([]byte, valueRecordSize-1)))
}
