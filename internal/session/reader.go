// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package session

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/dynolink/dynolink/internal/adapters"
	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/queue"
	"github.com/dynolink/dynolink/internal/reliability"
)

// circuitOpenBackoff is the reader's idle period when its breaker is open;
// polling an open circuit any faster only burns cycles.
const circuitOpenBackoff = time.Second

// readerService pumps one resilient source into the ingestion queue. It
// implements suture.Service; transient failures restart the reader, fatal
// ones remove it from the tree without touching the other sources.
type readerService struct {
	source   *reliability.ResilientSource
	sink     *queue.Queue
	priority queue.Priority
	onFatal  func(name string, err error)
}

// Serve implements suture.Service.
func (r *readerService) Serve(ctx context.Context) error {
	name := r.source.Name()

	if err := r.source.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Transport establish failure after the full retry budget is fatal
		// for this source; the rest of the session keeps running.
		r.onFatal(name, err)
		logging.Err(err).Str("source", name).Msg("source connect failed, removing from session")
		return suture.ErrDoNotRestart
	}
	defer r.source.Close()

	logging.Info().Str("source", name).Msg("source connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		samples, err := r.source.Read(ctx)
		switch {
		case err == nil:
			if len(samples) > 0 {
				r.sink.EnqueueSamples(r.priority, samples)
			}

		case ctx.Err() != nil:
			return ctx.Err()

		case errors.Is(err, adapters.ErrReplayComplete), errors.Is(err, adapters.ErrImportComplete):
			logging.Info().Str("source", name).Msg("source fully consumed")
			return suture.ErrDoNotRestart

		case reliability.IsPermanent(err):
			r.onFatal(name, err)
			logging.Err(err).Str("source", name).Msg("source failed permanently")
			return suture.ErrDoNotRestart

		case reliability.IsCircuitOpen(err):
			logging.Warn().Str("source", name).Msg("source circuit open, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(circuitOpenBackoff):
			}

		default:
			// Transient read failure past the retry budget: let the
			// supervisor restart the reader, which re-establishes transport.
			logging.Err(err).Str("source", name).Msg("source read failed, restarting reader")
			return err
		}
	}
}

// silenceSweeper periodically asks the analysis engine to check for silent
// channels while a session is live.
type silenceSweeper struct {
	interval time.Duration
	check    func()
}

// Serve implements suture.Service.
func (s *silenceSweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.check()
		}
	}
}
