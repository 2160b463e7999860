// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package protocol

import (
	"bytes"
	"encoding/binary"
)

// FrameKey identifies the intent of a wire message.
type FrameKey uint8

// Frame keys used by the multicast hardware link. KeyCatalogRequest is the
// only key this system transmits unsolicited; the rest originate from
// hardware providers (pong is sent in reply to a provider ping).
const (
	KeyProviderAnnounce FrameKey = 0x01
	KeyChannelCatalog   FrameKey = 0x02
	KeyClearCatalog     FrameKey = 0x03
	KeyChannelValues    FrameKey = 0x04
	KeyPing             FrameKey = 0x05
	KeyPong             FrameKey = 0x06
	KeyCatalogRequest   FrameKey = 0x07
)

// String returns the wire key name for logging.
func (k FrameKey) String() string {
	switch k {
	case KeyProviderAnnounce:
		return "provider-announce"
	case KeyChannelCatalog:
		return "channel-catalog"
	case KeyClearCatalog:
		return "clear-catalog"
	case KeyChannelValues:
		return "channel-values"
	case KeyPing:
		return "ping"
	case KeyPong:
		return "pong"
	case KeyCatalogRequest:
		return "catalog-request"
	default:
		return "unknown"
	}
}

// known reports whether the key is part of the recognized key set.
func (k FrameKey) known() bool {
	return k >= KeyProviderAnnounce && k <= KeyCatalogRequest
}

const (
	// IDSize is the fixed width of origin and destination identifiers.
	IDSize = 8

	// headerSize is key(1) + length(2) + origin(8) + sequence(4) + destination(8).
	headerSize = 1 + 2 + IDSize + 4 + IDSize

	// MaxFrameSize is the largest encodable frame; the length field is u16.
	MaxFrameSize = 1<<16 - 1
)

// BroadcastID is the well-known destination for catalog-request broadcasts.
var BroadcastID = [IDSize]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Frame is one discrete binary message on the wire. Immutable once decoded;
// Payload is a private copy of the buffer slice.
type Frame struct {
	Key           FrameKey
	OriginID      [IDSize]byte
	Sequence      uint32
	DestinationID [IDSize]byte
	Payload       []byte
}

// Equal reports whether two frames are identical, payload included.
func (f Frame) Equal(other Frame) bool {
	return f.Key == other.Key &&
		f.OriginID == other.OriginID &&
		f.Sequence == other.Sequence &&
		f.DestinationID == other.DestinationID &&
		bytes.Equal(f.Payload, other.Payload)
}

// Decode parses a byte buffer into a Frame.
//
// Returns ErrMalformedFrame when the buffer is shorter than the header, the
// length field disagrees with the buffer size, or the frame would exceed the
// wire maximum. A structurally valid frame with an unrecognized key is
// returned together with an UnknownFrameError so the caller can discard it
// at low severity. Decode never panics on arbitrary input.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < headerSize {
		return Frame{}, malformedf("buffer %d bytes, header needs %d", len(buf), headerSize)
	}

	declared := int(binary.BigEndian.Uint16(buf[1:3]))
	if declared != len(buf) {
		return Frame{}, malformedf("length field %d disagrees with buffer size %d", declared, len(buf))
	}

	f := Frame{
		Key:      FrameKey(buf[0]),
		Sequence: binary.BigEndian.Uint32(buf[3+IDSize : 3+IDSize+4]),
	}
	copy(f.OriginID[:], buf[3:3+IDSize])
	copy(f.DestinationID[:], buf[3+IDSize+4:headerSize])

	// Copy the payload so the frame does not alias the read buffer.
	if len(buf) > headerSize {
		f.Payload = make([]byte, len(buf)-headerSize)
		copy(f.Payload, buf[headerSize:])
	}

	if !f.Key.known() {
		return f, &UnknownFrameError{Key: f.Key}
	}
	return f, nil
}

// Encode serializes a frame for transmission. It is the exact inverse of
// Decode for all frames whose payload fits the u16 length field.
func Encode(f Frame) ([]byte, error) {
	total := headerSize + len(f.Payload)
	if total > MaxFrameSize {
		return nil, malformedf("frame size %d exceeds wire maximum %d", total, MaxFrameSize)
	}

	buf := make([]byte, total)
	buf[0] = byte(f.Key)
	binary.BigEndian.PutUint16(buf[1:3], uint16(total))
	copy(buf[3:3+IDSize], f.OriginID[:])
	binary.BigEndian.PutUint32(buf[3+IDSize:3+IDSize+4], f.Sequence)
	copy(buf[3+IDSize+4:headerSize], f.DestinationID[:])
	copy(buf[headerSize:], f.Payload)
	return buf, nil
}
