// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline: protocol decoding, queue pressure, circuit breaker health,
// and analysis window latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Protocol metrics
	FramesDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocol_frames_decoded_total",
			Help: "Total frames decoded from the multicast link, by key",
		},
		[]string{"key"},
	)

	FramesMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "protocol_frames_malformed_total",
			Help: "Total frames discarded as malformed",
		},
	)

	FramesUnknown = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "protocol_frames_unknown_total",
			Help: "Total frames discarded for an unrecognized key",
		},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Current number of items in the ingestion queue",
		},
	)

	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_queue_enqueued_total",
			Help: "Total items enqueued, by priority",
		},
		[]string{"priority"},
	)

	QueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_queue_dropped_total",
			Help: "Total items dropped on overflow, by priority of the dropped item",
		},
		[]string{"priority"},
	)

	QueueProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_queue_processed_total",
			Help: "Total items successfully processed",
		},
	)

	QueueFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_queue_failed_total",
			Help: "Total handler failures (per attempt, not per item)",
		},
	)

	DeadLetterDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_deadletter_depth",
			Help: "Current number of items in the dead-letter store",
		},
	)

	DeadLetterAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_deadletter_added_total",
			Help: "Total items moved to the dead-letter store",
		},
	)

	// Reliability metrics
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per source (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reliability_retry_attempts_total",
			Help: "Total retry attempts per source",
		},
		[]string{"source"},
	)

	// Analysis metrics
	WindowsAggregated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_windows_aggregated_total",
			Help: "Total aggregation windows emitted",
		},
	)

	WindowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_window_duration_seconds",
			Help:    "Time spent processing one aggregated window",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_alerts_raised_total",
			Help: "Total quality alerts raised, by kind",
		},
		[]string{"kind"},
	)

	SamplesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_samples_rejected_total",
			Help: "Samples outside the physically valid range, dropped from analysis",
		},
	)
)

// ObserveWindow records the latency of one aggregated analysis window.
func ObserveWindow(start time.Time) {
	WindowDuration.Observe(time.Since(start).Seconds())
}

// SetCircuitState records a breaker state change for a source.
// State values: 0=closed, 1=half-open, 2=open.
func SetCircuitState(source string, state float64) {
	CircuitState.WithLabelValues(source).Set(state)
}
