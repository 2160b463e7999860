// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package adapters contains the telemetry sources. Every adapter implements
// reliability.Source and produces canonical samples; nothing downstream of
// this package sees vendor channel ids, serial lines, or file formats.
package adapters

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dynolink/dynolink/internal/discovery"
	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/mapping"
	"github.com/dynolink/dynolink/internal/protocol"
	"github.com/dynolink/dynolink/internal/telemetry"
)

// ErrNotPinned is returned when the multicast adapter starts without a
// pinned provider.
var ErrNotPinned = errors.New("no provider pinned in registry")

// mappedChannel is one accepted mapping, indexed by vendor channel id.
type mappedChannel struct {
	role      mapping.Role
	transform mapping.Transform
}

// FrameSource is the slice of the discovery registry the multicast adapter
// needs: framed reads plus the pin filter.
type FrameSource interface {
	ReadFrame(deadline time.Time) (protocol.Frame, error)
	Accepts(origin [protocol.IDSize]byte) bool
	Pinned() string
}

// Multicast reads value frames for the pinned provider off the multicast
// link and normalizes them through the confirmed channel mapping.
type Multicast struct {
	registry    FrameSource
	channels    map[uint16]mappedChannel
	readTimeout time.Duration
}

// NewMulticast builds the adapter from a registry with a pinned provider and
// the confirmed mapping set.
func NewMulticast(registry FrameSource, mappings []mapping.MappingConfidence, readTimeout time.Duration) *Multicast {
	if readTimeout <= 0 {
		readTimeout = 200 * time.Millisecond
	}
	channels := make(map[uint16]mappedChannel, len(mappings))
	for _, m := range mappings {
		channels[m.SourceChannelID] = mappedChannel{role: m.CanonicalName, transform: m.Transform}
	}
	return &Multicast{
		registry:    registry,
		channels:    channels,
		readTimeout: readTimeout,
	}
}

// Name identifies the adapter by its pinned provider.
func (m *Multicast) Name() string {
	return "multicast:" + m.registry.Pinned()
}

// Connect verifies the registry is usable for capture. The multicast socket
// itself belongs to the registry and is already joined.
func (m *Multicast) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.registry.Pinned() == "" {
		return ErrNotPinned
	}
	return nil
}

// Read returns the next batch of mapped samples. A quiet link yields an
// empty batch with a nil error; frames from other providers or unmapped
// channels are skipped.
func (m *Multicast) Read(ctx context.Context) ([]telemetry.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := m.registry.ReadFrame(time.Now().Add(m.readTimeout))
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, err
	}

	if frame.Key != protocol.KeyChannelValues || !m.registry.Accepts(frame.OriginID) {
		return nil, nil
	}

	sourceID := discovery.ProviderID(frame.OriginID)
	records := protocol.DecodeValues(frame.Payload)
	samples := make([]telemetry.Sample, 0, len(records))
	for _, rec := range records {
		mc, ok := m.channels[rec.ChannelID]
		if !ok {
			continue
		}
		samples = append(samples, telemetry.Sample{
			SourceID:        sourceID,
			Channel:         string(mc.role),
			TimestampMillis: int64(rec.TimestampMillis),
			Value:           mc.transform.Apply(rec.Value),
		})
	}
	if len(samples) == 0 {
		return nil, nil
	}
	return samples, nil
}

// Close is a no-op: the registry owns the socket and the session controller
// closes it, which also unblocks a pending Read.
func (m *Multicast) Close() error {
	logging.Debug().Str("source", m.Name()).Msg("multicast adapter closed")
	return nil
}
