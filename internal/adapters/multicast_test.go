// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package adapters

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynolink/dynolink/internal/discovery"
	"github.com/dynolink/dynolink/internal/mapping"
	"github.com/dynolink/dynolink/internal/protocol"
)

// netTimeout mimics a socket deadline expiry.
type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

var _ net.Error = netTimeout{}

// fakeFrameSource feeds scripted frames to the adapter.
type fakeFrameSource struct {
	frames []protocol.Frame
	pinned string
}

func (f *fakeFrameSource) ReadFrame(time.Time) (protocol.Frame, error) {
	if len(f.frames) == 0 {
		return protocol.Frame{}, netTimeout{}
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, nil
}

func (f *fakeFrameSource) Accepts(origin [protocol.IDSize]byte) bool {
	return f.pinned == "" || f.pinned == discovery.ProviderID(origin)
}

func (f *fakeFrameSource) Pinned() string { return f.pinned }

var testOrigin = [protocol.IDSize]byte{1, 2, 3, 4, 5, 6, 7, 8}

func testMappings() []mapping.MappingConfidence {
	return []mapping.MappingConfidence{
		{CanonicalName: mapping.RoleRPM, SourceChannelID: 10, Transform: mapping.TransformIdentity},
		{CanonicalName: mapping.RoleAFRFront, SourceChannelID: 20, Transform: mapping.TransformLambdaToAFR},
	}
}

func valuesFrame(origin [protocol.IDSize]byte, records []protocol.ValueRecord) protocol.Frame {
	return protocol.Frame{
		Key:           protocol.KeyChannelValues,
		OriginID:      origin,
		DestinationID: protocol.BroadcastID,
		Payload:       protocol.EncodeValues(records),
	}
}

func TestMulticastMapsAndTransforms(t *testing.T) {
	src := &fakeFrameSource{
		pinned: discovery.ProviderID(testOrigin),
		frames: []protocol.Frame{valuesFrame(testOrigin, []protocol.ValueRecord{
			{ChannelID: 10, TimestampMillis: 100, Value: 3000},
			{ChannelID: 20, TimestampMillis: 100, Value: 0.9}, // lambda
			{ChannelID: 99, TimestampMillis: 100, Value: 1},   // unmapped
		})},
	}
	m := NewMulticast(src, testMappings(), 10*time.Millisecond)
	require.NoError(t, m.Connect(context.Background()))

	samples, err := m.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 2, "unmapped channels are dropped")

	assert.Equal(t, "rpm", samples[0].Channel)
	assert.Equal(t, 3000.0, samples[0].Value)
	assert.Equal(t, "afr_front", samples[1].Channel)
	assert.InDelta(t, 0.9*14.7, samples[1].Value, 1e-9, "lambda converted to AFR")
	assert.Equal(t, discovery.ProviderID(testOrigin), samples[0].SourceID)
}

func TestMulticastIgnoresOtherProviders(t *testing.T) {
	other := testOrigin
	other[0] ^= 0xff
	src := &fakeFrameSource{
		pinned: discovery.ProviderID(testOrigin),
		frames: []protocol.Frame{valuesFrame(other, []protocol.ValueRecord{
			{ChannelID: 10, TimestampMillis: 100, Value: 3000},
		})},
	}
	m := NewMulticast(src, testMappings(), 10*time.Millisecond)

	samples, err := m.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestMulticastIgnoresNonValueFrames(t *testing.T) {
	src := &fakeFrameSource{
		pinned: discovery.ProviderID(testOrigin),
		frames: []protocol.Frame{{
			Key:      protocol.KeyProviderAnnounce,
			OriginID: testOrigin,
		}},
	}
	m := NewMulticast(src, testMappings(), 10*time.Millisecond)

	samples, err := m.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestMulticastQuietLinkIsNotAnError(t *testing.T) {
	m := NewMulticast(&fakeFrameSource{pinned: "abc"}, testMappings(), 10*time.Millisecond)
	samples, err := m.Read(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, samples)
}

func TestMulticastConnectRequiresPin(t *testing.T) {
	m := NewMulticast(&fakeFrameSource{}, testMappings(), 10*time.Millisecond)
	assert.ErrorIs(t, m.Connect(context.Background()), ErrNotPinned)
}
