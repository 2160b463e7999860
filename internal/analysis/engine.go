// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package analysis aggregates the live telemetry stream into fixed windows
// and derives run feedback from it: operating-point coverage, data quality,
// alerts, and AFR deltas against the tuning target.
//
// The engine is synchronous and single-owner: the queue processor feeds it
// batches, API handlers read snapshots. Analysis failures are logged and
// counted, never propagated into the ingestion path.
package analysis

import (
	"math"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/mapping"
	"github.com/dynolink/dynolink/internal/metrics"
	"github.com/dynolink/dynolink/internal/telemetry"
)

// AggregationMode selects how samples inside a window collapse.
type AggregationMode string

const (
	// ModeLastValue keeps the newest sample in the window.
	ModeLastValue AggregationMode = "last"

	// ModeMean averages all samples in the window.
	ModeMean AggregationMode = "mean"
)

// Config controls the analysis engine.
type Config struct {
	// WindowSize is the aggregation window per canonical channel.
	WindowSize time.Duration `koanf:"window_size"`

	// Mode selects last-value-wins or mean aggregation.
	Mode AggregationMode `koanf:"mode"`

	// RPMBucket and MAPBucket size the coverage grid cells.
	RPMBucket float64 `koanf:"rpm_bucket"`
	MAPBucket float64 `koanf:"map_bucket"`

	// FrozenWindows is how many identical consecutive aggregates raise the
	// frozen-value alert.
	FrozenWindows int `koanf:"frozen_windows"`

	// ExpectedPeriod is the nominal inter-sample period of a live channel.
	ExpectedPeriod time.Duration `koanf:"expected_period"`

	// SilenceFactor times ExpectedPeriod is the silence alert threshold.
	SilenceFactor float64 `koanf:"silence_factor"`

	// AFRTarget is the tuning target the per-cell AFR delta measures against.
	AFRTarget float64 `koanf:"afr_target"`

	// Topic is the bus topic aggregated samples are published on.
	Topic string `koanf:"topic"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:     50 * time.Millisecond,
		Mode:           ModeLastValue,
		RPMBucket:      250,
		MAPBucket:      10,
		FrozenWindows:  40,
		ExpectedPeriod: 50 * time.Millisecond,
		SilenceFactor:  10,
		AFRTarget:      13.2,
		Topic:          "analysis.windows",
	}
}

// AggregatedSample is one channel's collapsed window.
type AggregatedSample struct {
	Channel     string  `json:"channel"`
	WindowStart int64   `json:"window_start_ms"`
	Value       float64 `json:"value"`
	Count       int     `json:"count"`
}

// State is the engine snapshot served over the API and pushed to websocket
// clients.
type State struct {
	QualityScore   float64                     `json:"quality_score"`
	Windows        uint64                      `json:"windows"`
	Coverage       []CoverageCell              `json:"coverage"`
	Alerts         []Alert                     `json:"alerts"`
	LastAggregated map[string]AggregatedSample `json:"last_aggregated"`
	GeneratedAt    time.Time                   `json:"generated_at"`
}

// channelState is the per-channel accumulator. Owned by the engine mutex.
type channelState struct {
	windowStart int64
	open        bool
	last        float64
	sum         float64
	count       int

	prevAgg   float64
	hasPrev   bool
	frozenRun int

	lastSeen time.Time

	frozenAlerted bool
	rangeAlerted  bool
	silentAlerted bool
}

// Engine aggregates samples and maintains analysis state.
type Engine struct {
	cfg Config
	pub message.Publisher
	now func() time.Time

	mu       sync.Mutex
	channels map[string]*channelState
	alerts   []Alert
	grid     *coverageGrid
	lastAgg  map[string]AggregatedSample
	windows  uint64

	curRPM, curMAP   float64
	haveRPM, haveMAP bool
}

// maxAlerts bounds the retained alert history.
const maxAlerts = 200

// New creates an engine. pub may be nil when no bus is wired (tests, import
// tools); aggregates are then kept locally only.
func New(cfg Config, pub message.Publisher) *Engine {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.RPMBucket <= 0 {
		cfg.RPMBucket = def.RPMBucket
	}
	if cfg.MAPBucket <= 0 {
		cfg.MAPBucket = def.MAPBucket
	}
	if cfg.FrozenWindows <= 0 {
		cfg.FrozenWindows = def.FrozenWindows
	}
	if cfg.ExpectedPeriod <= 0 {
		cfg.ExpectedPeriod = def.ExpectedPeriod
	}
	if cfg.SilenceFactor <= 0 {
		cfg.SilenceFactor = def.SilenceFactor
	}
	if cfg.AFRTarget <= 0 {
		cfg.AFRTarget = def.AFRTarget
	}
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	e := &Engine{
		cfg: cfg,
		pub: pub,
		now: time.Now,
	}
	e.resetLocked()
	return e
}

// Ingest folds a sample batch into the current windows. It never returns an
// error: malformed samples are counted and skipped, downstream publish
// failures are logged.
func (e *Engine) Ingest(samples []telemetry.Sample) {
	start := time.Now()
	var closed []AggregatedSample

	e.mu.Lock()
	for _, s := range samples {
		if s.Channel == "" || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			metrics.SamplesRejected.Inc()
			logging.Debug().
				Str("channel", s.Channel).
				Float64("value", s.Value).
				Msg("rejecting unusable sample")
			continue
		}

		st := e.state(s.Channel)
		st.lastSeen = e.now()
		st.silentAlerted = false

		windowMillis := e.cfg.WindowSize.Milliseconds()
		ws := s.TimestampMillis - s.TimestampMillis%windowMillis

		if st.open && ws > st.windowStart {
			closed = append(closed, e.closeWindow(s.Channel, st))
		}
		if st.open && ws < st.windowStart {
			// Late sample from before the open window; nothing to fold it into.
			metrics.SamplesRejected.Inc()
			continue
		}
		if !st.open {
			st.open = true
			st.windowStart = ws
			st.sum = 0
			st.count = 0
		}
		st.last = s.Value
		st.sum += s.Value
		st.count++
	}
	e.mu.Unlock()

	e.publish(closed)
	if len(closed) > 0 {
		metrics.ObserveWindow(start)
	}
}

// Flush closes every open window, emitting its aggregate. Called on session
// stop so the tail of a run is not lost.
func (e *Engine) Flush() {
	e.mu.Lock()
	var closed []AggregatedSample
	for ch, st := range e.channels {
		if st.open {
			closed = append(closed, e.closeWindow(ch, st))
		}
	}
	e.mu.Unlock()
	e.publish(closed)
}

// closeWindow collapses one window and runs the per-aggregate analysis.
// Caller holds the mutex.
func (e *Engine) closeWindow(channel string, st *channelState) AggregatedSample {
	value := st.last
	if e.cfg.Mode == ModeMean && st.count > 0 {
		value = st.sum / float64(st.count)
	}
	agg := AggregatedSample{
		Channel:     channel,
		WindowStart: st.windowStart,
		Value:       value,
		Count:       st.count,
	}
	st.open = false
	e.windows++
	metrics.WindowsAggregated.Inc()

	e.checkFrozen(channel, st, value)

	// Implausible aggregates are alerted and dropped from analysis state so
	// coverage means and AFR deltas stay trustworthy.
	if e.checkRange(channel, st, value) {
		e.lastAgg[channel] = agg
		e.updateCoverage(channel, value)
	} else {
		metrics.SamplesRejected.Inc()
	}

	st.prevAgg = value
	st.hasPrev = true
	return agg
}

func (e *Engine) checkFrozen(channel string, st *channelState, value float64) {
	if st.hasPrev && value == st.prevAgg {
		st.frozenRun++
	} else {
		st.frozenRun = 0
		st.frozenAlerted = false
	}
	if st.frozenRun >= e.cfg.FrozenWindows && !st.frozenAlerted {
		st.frozenAlerted = true
		e.raise(RuleFrozen, channel, "value unchanged across aggregation windows; sensor may be stuck")
	}
}

// checkRange reports whether the aggregate is physically plausible, raising
// the out-of-range alert on the first implausible window.
func (e *Engine) checkRange(channel string, st *channelState, value float64) bool {
	r, ok := plausibleRanges[channel]
	if !ok {
		return true
	}
	if r.contains(value) {
		st.rangeAlerted = false
		return true
	}
	if !st.rangeAlerted {
		st.rangeAlerted = true
		e.raise(RuleOutOfRange, channel, "aggregated value outside plausible range")
	}
	return false
}

// updateCoverage tracks the rpm x map operating point and folds AFR readings
// into the current cell.
func (e *Engine) updateCoverage(channel string, value float64) {
	switch channel {
	case string(mapping.RoleRPM):
		e.curRPM = value
		e.haveRPM = true
		e.grid.visit(e.curRPM, e.curMAP)
	case string(mapping.RoleMAP):
		e.curMAP = value
		e.haveMAP = true
	case string(mapping.RoleAFRFront):
		if e.haveRPM {
			e.grid.recordAFR(e.curRPM, e.curMAP, value)
		}
	}
}

// CheckSilence raises alerts for channels that stopped producing samples.
// The session controller calls it on a ticker; GetState also sweeps so API
// snapshots are never stale.
func (e *Engine) CheckSilence() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkSilenceLocked()
}

func (e *Engine) checkSilenceLocked() {
	timeout := e.silenceTimeout()
	now := e.now()
	for ch, st := range e.channels {
		if st.silentAlerted || now.Sub(st.lastSeen) <= timeout {
			continue
		}
		st.silentAlerted = true
		e.raise(RuleSilent, ch, "no samples received beyond the silence timeout")
	}
}

func (e *Engine) silenceTimeout() time.Duration {
	return time.Duration(e.cfg.SilenceFactor * float64(e.cfg.ExpectedPeriod))
}

// raise appends an alert. Caller holds the mutex.
func (e *Engine) raise(rule, channel, msg string) {
	alert := Alert{Rule: rule, Channel: channel, Message: msg, RaisedAt: e.now()}
	e.alerts = append(e.alerts, alert)
	if len(e.alerts) > maxAlerts {
		e.alerts = e.alerts[len(e.alerts)-maxAlerts:]
	}
	metrics.AlertsRaised.WithLabelValues(rule).Inc()
	logging.Warn().
		Str("rule", rule).
		Str("channel", channel).
		Msg(msg)
}

// GetState returns a consistent snapshot of analysis state.
func (e *Engine) GetState() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.checkSilenceLocked()

	alerts := make([]Alert, len(e.alerts))
	copy(alerts, e.alerts)
	lastAgg := make(map[string]AggregatedSample, len(e.lastAgg))
	for ch, agg := range e.lastAgg {
		lastAgg[ch] = agg
	}

	return State{
		QualityScore:   e.qualityLocked(),
		Windows:        e.windows,
		Coverage:       e.grid.snapshot(e.cfg.AFRTarget),
		Alerts:         alerts,
		LastAggregated: lastAgg,
		GeneratedAt:    e.now(),
	}
}

// qualityLocked scores data quality from freshness, required-channel
// presence, and the absence of frozen sensors.
func (e *Engine) qualityLocked() float64 {
	if len(e.channels) == 0 {
		return 0
	}

	timeout := e.silenceTimeout()
	now := e.now()
	fresh, lively := 0, 0
	for _, st := range e.channels {
		if now.Sub(st.lastSeen) <= timeout {
			fresh++
		}
		if !st.frozenAlerted {
			lively++
		}
	}
	freshness := float64(fresh) / float64(len(e.channels))
	liveliness := float64(lively) / float64(len(e.channels))

	required := mapping.RequiredRoles()
	present := 0
	for _, role := range required {
		if _, ok := e.channels[string(role)]; ok {
			present++
		}
	}
	presence := float64(present) / float64(len(required))

	return 0.4*freshness + 0.4*presence + 0.2*liveliness
}

// Reset clears all analysis state. Explicit only; nothing resets implicitly
// between runs.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.channels = make(map[string]*channelState)
	e.alerts = nil
	e.grid = newCoverageGrid(e.cfg.RPMBucket, e.cfg.MAPBucket)
	e.lastAgg = make(map[string]AggregatedSample)
	e.windows = 0
	e.haveRPM, e.haveMAP = false, false
	e.curRPM, e.curMAP = 0, 0
}

func (e *Engine) state(channel string) *channelState {
	st, ok := e.channels[channel]
	if !ok {
		st = &channelState{}
		e.channels[channel] = st
	}
	return st
}

// publish pushes closed aggregates onto the bus. Failures are logged only;
// analysis must never stall ingestion.
func (e *Engine) publish(closed []AggregatedSample) {
	if e.pub == nil || len(closed) == 0 {
		return
	}
	for _, agg := range closed {
		data, err := json.Marshal(agg)
		if err != nil {
			logging.Err(err).Str("channel", agg.Channel).Msg("marshal aggregate")
			continue
		}
		msg := message.NewMessage(watermill.NewUUID(), data)
		if err := e.pub.Publish(e.cfg.Topic, msg); err != nil {
			logging.Warn().Err(err).Str("channel", agg.Channel).Msg("publish aggregate")
		}
	}
}
