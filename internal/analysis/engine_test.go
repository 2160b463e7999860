// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package analysis

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynolink/dynolink/internal/telemetry"
)

func sample(channel string, ts int64, value float64) telemetry.Sample {
	return telemetry.Sample{SourceID: "test", Channel: channel, TimestampMillis: ts, Value: value}
}

// capturePub records published messages for assertions.
type capturePub struct {
	mu       sync.Mutex
	topic    string
	messages []*message.Message
}

func (p *capturePub) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *capturePub) Close() error { return nil }

func TestBurstCollapsesToOneAggregate(t *testing.T) {
	e := New(DefaultConfig(), nil)

	// 200 samples inside one 50ms window must produce exactly one aggregate.
	var batch []telemetry.Sample
	for i := 0; i < 200; i++ {
		batch = append(batch, sample("rpm", int64(i%50), 3000+float64(i)))
	}
	e.Ingest(batch)
	e.Flush()

	state := e.GetState()
	assert.Equal(t, uint64(1), state.Windows)
	agg := state.LastAggregated["rpm"]
	assert.Equal(t, 200, agg.Count)
	assert.Equal(t, int64(0), agg.WindowStart)
}

func TestWindowBoundaryClosesPreviousWindow(t *testing.T) {
	e := New(DefaultConfig(), nil)

	e.Ingest([]telemetry.Sample{
		sample("rpm", 10, 3000),
		sample("rpm", 40, 3100),
		sample("rpm", 60, 3200), // next window; closes the first
	})

	state := e.GetState()
	assert.Equal(t, uint64(1), state.Windows)
	// Last-value-wins within the closed window.
	assert.Equal(t, 3100.0, state.LastAggregated["rpm"].Value)
	assert.Equal(t, 2, state.LastAggregated["rpm"].Count)
}

func TestMeanMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeMean
	e := New(cfg, nil)

	e.Ingest([]telemetry.Sample{
		sample("rpm", 0, 1000),
		sample("rpm", 10, 2000),
		sample("rpm", 20, 3000),
		sample("rpm", 60, 0),
	})

	assert.Equal(t, 2000.0, e.GetState().LastAggregated["rpm"].Value)
}

func TestFrozenValueAlert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrozenWindows = 3
	e := New(cfg, nil)

	// Six windows of the same value: frozen run reaches the threshold once.
	var batch []telemetry.Sample
	for i := 0; i < 6; i++ {
		batch = append(batch, sample("tps", int64(i)*50, 42.0))
	}
	e.Ingest(batch)
	e.Flush()

	var frozen []Alert
	for _, a := range e.GetState().Alerts {
		if a.Rule == RuleFrozen {
			frozen = append(frozen, a)
		}
	}
	require.Len(t, frozen, 1, "frozen alert raised exactly once while active")
	assert.Equal(t, "tps", frozen[0].Channel)
}

func TestFrozenRunResetsOnChange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrozenWindows = 3
	e := New(cfg, nil)

	var batch []telemetry.Sample
	for i := 0; i < 8; i++ {
		// Value changes every window; never frozen.
		batch = append(batch, sample("tps", int64(i)*50, float64(i)))
	}
	e.Ingest(batch)
	e.Flush()

	for _, a := range e.GetState().Alerts {
		assert.NotEqual(t, RuleFrozen, a.Rule)
	}
}

func TestOutOfRangeAlert(t *testing.T) {
	e := New(DefaultConfig(), nil)

	e.Ingest([]telemetry.Sample{
		sample("afr_front", 0, 99.0), // implausible AFR
		sample("afr_front", 60, 13.0),
	})

	state := e.GetState()
	var found bool
	for _, a := range state.Alerts {
		if a.Rule == RuleOutOfRange && a.Channel == "afr_front" {
			found = true
		}
	}
	assert.True(t, found)

	// The implausible aggregate is dropped from analysis state, not retained.
	assert.NotEqual(t, 99.0, state.LastAggregated["afr_front"].Value)
}

func TestOutOfRangeValueExcludedFromCoverage(t *testing.T) {
	e := New(DefaultConfig(), nil)

	// First window carries an implausible AFR reading; the second a sane one.
	// The coverage cell's mean must reflect only the sane reading.
	e.Ingest([]telemetry.Sample{
		sample("map", 0, 95),
		sample("rpm", 0, 3000),
		sample("afr_front", 0, 99.0),
		sample("map", 60, 95),
		sample("rpm", 60, 3000),
		sample("afr_front", 60, 13.0),
		sample("map", 120, 95),
		sample("rpm", 120, 3000),
		sample("afr_front", 120, 13.0),
	})

	state := e.GetState()
	require.NotEmpty(t, state.Coverage)
	cell := state.Coverage[len(state.Coverage)-1]
	assert.InDelta(t, 13.0, cell.MeanAFR, 1e-9)
	assert.InDelta(t, 13.0-13.2, cell.AFRDelta, 1e-9)
	assert.Equal(t, 13.0, state.LastAggregated["afr_front"].Value)
}

func TestSilenceAlert(t *testing.T) {
	e := New(DefaultConfig(), nil)
	clock := time.Unix(1000, 0)
	e.now = func() time.Time { return clock }

	e.Ingest([]telemetry.Sample{sample("rpm", 0, 3000)})

	// Within the timeout: no alert.
	clock = clock.Add(100 * time.Millisecond)
	e.CheckSilence()
	assert.Empty(t, e.GetState().Alerts)

	// 10x the 50ms expected period is 500ms.
	clock = clock.Add(time.Second)
	e.CheckSilence()

	state := e.GetState()
	require.Len(t, state.Alerts, 1)
	assert.Equal(t, "channel-silent", state.Alerts[0].Rule)
	assert.Equal(t, "rpm", state.Alerts[0].Channel)

	// Alert does not repeat while the channel stays silent.
	clock = clock.Add(time.Second)
	e.CheckSilence()
	assert.Len(t, e.GetState().Alerts, 1)
}

func TestCoverageGridAndAFRDelta(t *testing.T) {
	e := New(DefaultConfig(), nil)

	// Map closes first so the operating point is known when rpm and AFR close.
	e.Ingest([]telemetry.Sample{
		sample("map", 0, 95),
		sample("rpm", 0, 3000),
		sample("afr_front", 0, 12.2),
		sample("map", 60, 95),
		sample("rpm", 60, 3000),
		sample("afr_front", 60, 12.2),
	})

	state := e.GetState()
	require.NotEmpty(t, state.Coverage)
	cell := state.Coverage[len(state.Coverage)-1]
	assert.Equal(t, 3000.0, cell.RPMLow)
	assert.Equal(t, 90.0, cell.MAPLow)
	assert.InDelta(t, 12.2, cell.MeanAFR, 1e-9)
	assert.InDelta(t, 12.2-13.2, cell.AFRDelta, 1e-9)
}

func TestRejectsUnusableSamples(t *testing.T) {
	e := New(DefaultConfig(), nil)

	e.Ingest([]telemetry.Sample{
		sample("rpm", 0, math.NaN()),
		sample("rpm", 0, math.Inf(1)),
		sample("", 0, 1.0),
	})
	e.Flush()

	state := e.GetState()
	assert.Zero(t, state.Windows)
	assert.Empty(t, state.LastAggregated)
}

func TestQualityScoreFullWhenHealthy(t *testing.T) {
	e := New(DefaultConfig(), nil)
	clock := time.Unix(1000, 0)
	e.now = func() time.Time { return clock }

	e.Ingest([]telemetry.Sample{
		sample("rpm", 0, 3000),
		sample("afr_front", 0, 13.0),
	})

	assert.InDelta(t, 1.0, e.GetState().QualityScore, 1e-9)
}

func TestQualityScoreDropsWithoutRequiredChannels(t *testing.T) {
	e := New(DefaultConfig(), nil)
	clock := time.Unix(1000, 0)
	e.now = func() time.Time { return clock }

	e.Ingest([]telemetry.Sample{sample("tps", 0, 50)})

	// Fresh and lively but no required channel present.
	assert.InDelta(t, 0.6, e.GetState().QualityScore, 1e-9)
}

func TestResetIsExplicitOnly(t *testing.T) {
	e := New(DefaultConfig(), nil)
	e.Ingest([]telemetry.Sample{
		sample("rpm", 0, 3000),
		sample("rpm", 60, 3100),
	})
	require.Equal(t, uint64(1), e.GetState().Windows)

	e.Reset()
	state := e.GetState()
	assert.Zero(t, state.Windows)
	assert.Empty(t, state.LastAggregated)
	assert.Empty(t, state.Coverage)
	assert.Empty(t, state.Alerts)
}

func TestAggregatesPublishedOnBus(t *testing.T) {
	pub := &capturePub{}
	e := New(DefaultConfig(), pub)

	e.Ingest([]telemetry.Sample{
		sample("rpm", 0, 3000),
		sample("rpm", 60, 3100),
	})

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "analysis.windows", pub.topic)

	var agg AggregatedSample
	require.NoError(t, json.Unmarshal(pub.messages[0].Payload, &agg))
	assert.Equal(t, "rpm", agg.Channel)
	assert.Equal(t, 3000.0, agg.Value)
}
