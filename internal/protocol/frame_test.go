// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(key FrameKey, payload []byte) Frame {
	return Frame{
		Key:           key,
		OriginID:      [IDSize]byte{1, 2, 3, 4, 5, 6, 7, 8},
		Sequence:      42,
		DestinationID: BroadcastID,
		Payload:       payload,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := []Frame{
		testFrame(KeyProviderAnnounce, nil),
		testFrame(KeyChannelCatalog, []byte{0xde, 0xad, 0xbe, 0xef}),
		testFrame(KeyClearCatalog, nil),
		testFrame(KeyChannelValues, make([]byte, 140)),
		testFrame(KeyPing, nil),
		testFrame(KeyPong, nil),
		testFrame(KeyCatalogRequest, nil),
	}

	for _, f := range frames {
		t.Run(f.Key.String(), func(t *testing.T) {
			buf, err := Encode(f)
			require.NoError(t, err)

			decoded, err := Decode(buf)
			require.NoError(t, err)
			assert.True(t, f.Equal(decoded), "round-trip must preserve the frame")
		})
	}
}

func TestDecodeTruncatedHeader(t *testing.T) {
	for size := 0; size < headerSize; size++ {
		_, err := Decode(make([]byte, size))
		assert.ErrorIs(t, err, ErrMalformedFrame, "buffer of %d bytes", size)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	f := testFrame(KeyChannelValues, []byte{1, 2, 3, 4})
	buf, err := Encode(f)
	require.NoError(t, err)

	t.Run("declared longer than buffer", func(t *testing.T) {
		short := buf[:len(buf)-2]
		_, err := Decode(short)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("declared shorter than buffer", func(t *testing.T) {
		tampered := make([]byte, len(buf))
		copy(tampered, buf)
		binary.BigEndian.PutUint16(tampered[1:3], uint16(len(buf)-1))
		_, err := Decode(tampered)
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})
}

func TestDecodeNeverPanics(t *testing.T) {
	// Every prefix of a valid frame must fail cleanly, never panic.
	f := testFrame(KeyChannelCatalog, make([]byte, 64))
	buf, err := Encode(f)
	require.NoError(t, err)

	for i := 0; i < len(buf); i++ {
		_, err := Decode(buf[:i])
		assert.Error(t, err)
	}
}

func TestDecodeUnknownKey(t *testing.T) {
	f := testFrame(FrameKey(0x7f), []byte{9, 9})
	buf, err := Encode(f)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.Error(t, err)
	assert.True(t, IsUnknownFrame(err))

	var ue *UnknownFrameError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, FrameKey(0x7f), ue.Key)

	// The frame is still usable for logging.
	assert.Equal(t, f.OriginID, decoded.OriginID)
	assert.Equal(t, f.Sequence, decoded.Sequence)
}

func TestEncodeOversizedPayload(t *testing.T) {
	f := testFrame(KeyChannelValues, make([]byte, MaxFrameSize))
	_, err := Encode(f)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodePayloadIsCopied(t *testing.T) {
	f := testFrame(KeyChannelValues, []byte{1, 2, 3, 4})
	buf, err := Encode(f)
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)

	buf[headerSize] = 0xff
	assert.Equal(t, byte(1), decoded.Payload[0], "decoded frame must not alias the read buffer")
}
