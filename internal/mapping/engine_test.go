// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynolink/dynolink/internal/protocol"
)

func findRole(t *testing.T, mappings []MappingConfidence, role Role) MappingConfidence {
	t.Helper()
	for _, m := range mappings {
		if m.CanonicalName == role {
			return m
		}
	}
	t.Fatalf("role %s not mapped", role)
	return MappingConfidence{}
}

func hasRole(mappings []MappingConfidence, role Role) bool {
	for _, m := range mappings {
		if m.CanonicalName == role {
			return true
		}
	}
	return false
}

func TestAutoMapExactMatchScoresHigh(t *testing.T) {
	// Unit match plus name pattern must always reach >= 0.8 confidence.
	engine := NewEngine()
	mappings := engine.AutoMap([]protocol.ChannelDescriptor{
		{ChannelID: 1, Name: "rpm", Unit: protocol.UnitRPM},
		{ChannelID: 2, Name: "wideband1", Unit: protocol.UnitAFR},
	})

	rpm := findRole(t, mappings, RoleRPM)
	assert.GreaterOrEqual(t, rpm.Confidence, 0.8)
	assert.Equal(t, uint16(1), rpm.SourceChannelID)
	assert.Equal(t, TransformIdentity, rpm.Transform)

	afr := findRole(t, mappings, RoleAFRFront)
	assert.GreaterOrEqual(t, afr.Confidence, 0.8)
	assert.Equal(t, uint16(2), afr.SourceChannelID)

	assert.True(t, engine.Ready(mappings), "rpm and afr_front mapped: session is ready")
}

func TestAutoMapIdempotent(t *testing.T) {
	engine := NewEngine()
	channels := []protocol.ChannelDescriptor{
		{ChannelID: 3, Name: "Engine Speed", Unit: protocol.UnitRPM},
		{ChannelID: 1, Name: "Wideband AFR", Unit: protocol.UnitAFR},
		{ChannelID: 9, Name: "MAP", Unit: protocol.UnitKPa},
		{ChannelID: 5, Name: "Throttle", Unit: protocol.UnitPercent},
	}

	first := engine.AutoMap(channels)
	second := engine.AutoMap(channels)
	assert.Equal(t, first, second, "auto-map must be idempotent on unchanged input")
}

func TestAutoMapLambdaConvertibleWithWarning(t *testing.T) {
	engine := NewEngine()
	mappings := engine.AutoMap([]protocol.ChannelDescriptor{
		{ChannelID: 1, Name: "rpm", Unit: protocol.UnitRPM},
		{ChannelID: 2, Name: "lambda sensor", Unit: protocol.UnitLambda},
	})

	// No AFR channel exists, but the lambda channel is convertible.
	afr := findRole(t, mappings, RoleAFRFront)
	assert.Equal(t, uint16(2), afr.SourceChannelID)
	assert.Equal(t, TransformLambdaToAFR, afr.Transform)
	assert.NotEmpty(t, afr.Warnings)
	assert.GreaterOrEqual(t, afr.Confidence, MinConfidence)
}

func TestAutoMapRejectsBelowMinConfidence(t *testing.T) {
	engine := NewEngine()
	mappings := engine.AutoMap([]protocol.ChannelDescriptor{
		// A voltage channel matches no role's unit and no pattern strongly.
		{ChannelID: 1, Name: "aux input 3", Unit: protocol.UnitVolt},
	})
	assert.False(t, hasRole(mappings, RoleRPM))
	assert.False(t, hasRole(mappings, RoleAFRFront))
}

func TestAutoMapDisambiguationBonus(t *testing.T) {
	engine := NewEngine()

	// Two AFR-unit channels compete; only the named one gets the bonus.
	mappings := engine.AutoMap([]protocol.ChannelDescriptor{
		{ChannelID: 1, Name: "wideband front", Unit: protocol.UnitAFR},
		{ChannelID: 2, Name: "aux sensor", Unit: protocol.UnitAFR},
	})

	afr := findRole(t, mappings, RoleAFRFront)
	assert.Equal(t, uint16(1), afr.SourceChannelID)
	// 0.5 unit + 0.3 name + 0.2 bonus
	assert.InDelta(t, 1.0, afr.Confidence, 1e-9)
}

func TestAutoMapTieResolvesToLowerChannelID(t *testing.T) {
	engine := NewEngine()

	mappings := engine.AutoMap([]protocol.ChannelDescriptor{
		{ChannelID: 7, Name: "sensor a", Unit: protocol.UnitRPM},
		{ChannelID: 2, Name: "sensor b", Unit: protocol.UnitRPM},
	})

	rpm := findRole(t, mappings, RoleRPM)
	assert.Equal(t, uint16(2), rpm.SourceChannelID)
	// Tied candidates: no disambiguation bonus.
	assert.InDelta(t, unitMatchScore, rpm.Confidence, 1e-9)
}

func TestReadinessRequiresAllRequiredRoles(t *testing.T) {
	engine := NewEngine()

	// Only rpm present: afr_front missing, session not ready.
	mappings := engine.AutoMap([]protocol.ChannelDescriptor{
		{ChannelID: 1, Name: "rpm", Unit: protocol.UnitRPM},
	})
	assert.False(t, engine.Ready(mappings))
}

func TestReadinessRejectsWeakMappingWithoutWarnings(t *testing.T) {
	engine := NewEngine()
	mappings := []MappingConfidence{
		{CanonicalName: RoleRPM, Confidence: 0.9},
		{CanonicalName: RoleAFRFront, Confidence: 0.6}, // weak, no warning trail
	}
	assert.False(t, engine.Ready(mappings))

	mappings[1].Warnings = []string{"unit converted from lambda"}
	assert.True(t, engine.Ready(mappings))
}

func TestTransformApply(t *testing.T) {
	assert.InDelta(t, 14.7, TransformLambdaToAFR.Apply(1.0), 1e-9)
	assert.InDelta(t, 12.0, TransformIdentity.Apply(12.0), 1e-9)
}

func TestRequiredRoles(t *testing.T) {
	required := RequiredRoles()
	require.Contains(t, required, RoleRPM)
	require.Contains(t, required, RoleAFRFront)
	assert.Len(t, required, 2)
}
