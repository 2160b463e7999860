// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package reliability

import (
	"context"

	"github.com/dynolink/dynolink/internal/telemetry"
)

// Source is any telemetry data source: the multicast protocol reader, the
// serial wideband device, a run-file replay, or a CSV import. Read blocks at
// most for the source's own read timeout, never indefinitely.
type Source interface {
	// Name identifies the source in logs, metrics, and samples.
	Name() string

	// Connect establishes the underlying transport (socket join, device open).
	Connect(ctx context.Context) error

	// Read returns the next batch of normalized samples. An empty batch with
	// a nil error means the read timed out quietly; callers poll again.
	Read(ctx context.Context) ([]telemetry.Sample, error)

	// Close releases the transport. Closing unblocks a pending Read.
	Close() error
}

// ResilientSource decorates a Source with retry and circuit-breaker
// protection. The breaker is consulted before every attempt; retry wraps
// individual operations only.
type ResilientSource struct {
	source  Source
	breaker *Breaker
	retry   *RetryPolicy
}

// Wrap builds a ResilientSource around src using the given policies.
func Wrap(src Source, breaker *Breaker, retry *RetryPolicy) *ResilientSource {
	return &ResilientSource{
		source:  src,
		breaker: breaker,
		retry:   retry,
	}
}

// Name returns the wrapped source's name.
func (rs *ResilientSource) Name() string {
	return rs.source.Name()
}

// Breaker exposes the circuit breaker for health reporting.
func (rs *ResilientSource) Breaker() *Breaker {
	return rs.breaker
}

// Connect establishes the transport under retry and breaker protection.
// Exhausted retries surface as a fatal condition to the session controller.
func (rs *ResilientSource) Connect(ctx context.Context) error {
	return rs.retry.Do(ctx, rs.source.Name(), func() error {
		return rs.breaker.Execute(func() error {
			return rs.source.Connect(ctx)
		})
	})
}

// Read fetches the next sample batch. Each attempt passes through the
// breaker first; an open circuit fails the whole operation immediately so
// the reader loop backs off instead of hammering an unhealthy device.
func (rs *ResilientSource) Read(ctx context.Context) ([]telemetry.Sample, error) {
	var samples []telemetry.Sample
	err := rs.retry.Do(ctx, rs.source.Name(), func() error {
		return rs.breaker.Execute(func() error {
			var readErr error
			samples, readErr = rs.source.Read(ctx)
			return readErr
		})
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// Close releases the wrapped source's transport.
func (rs *ResilientSource) Close() error {
	return rs.source.Close()
}
