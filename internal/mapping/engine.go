// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dynolink/dynolink/internal/protocol"
)

// Scoring weights. A channel whose unit matches exactly and whose name
// contains an expected pattern always reaches at least 0.8.
const (
	unitMatchScore    = 0.5
	convertibleScore  = 0.4
	nameMatchScore    = 0.3
	disambiguateBonus = 0.2

	// MinConfidence is the acceptance floor for a mapping.
	MinConfidence = 0.5

	// ReadyConfidence is the per-required-role floor for session readiness.
	ReadyConfidence = 0.7
)

// MappingConfidence is the scored result for one canonical role. Written
// once per discovery pass; copy-on-write for updates.
type MappingConfidence struct {
	CanonicalName   Role      `json:"canonical_name"`
	SourceChannelID uint16    `json:"source_channel_id"`
	ChannelName     string    `json:"channel_name"`
	Unit            string    `json:"unit"`
	Confidence      float64   `json:"confidence"`
	Reasons         []string  `json:"reasons"`
	Warnings        []string  `json:"warnings,omitempty"`
	Transform       Transform `json:"transform"`
}

// Engine scores provider channels against the canonical role table.
type Engine struct {
	minConfidence   float64
	readyConfidence float64
}

// NewEngine creates a mapping engine with the default thresholds.
func NewEngine() *Engine {
	return &Engine{
		minConfidence:   MinConfidence,
		readyConfidence: ReadyConfidence,
	}
}

// candidate is one channel's score for one role.
type candidate struct {
	channel   protocol.ChannelDescriptor
	score     float64
	reasons   []string
	warnings  []string
	transform Transform
}

// AutoMap scores every channel against every canonical role and returns the
// accepted mappings, one per role at most, ordered by the role table.
//
// AutoMap is idempotent: unchanged channel metadata always yields identical
// scores and mappings. Channels are evaluated in ChannelID order and ties
// resolve to the lower id.
func (e *Engine) AutoMap(channels []protocol.ChannelDescriptor) []MappingConfidence {
	sorted := make([]protocol.ChannelDescriptor, len(channels))
	copy(sorted, channels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChannelID < sorted[j].ChannelID })

	var mappings []MappingConfidence
	for _, spec := range roleTable {
		best, runnerUp := e.scoreRole(spec, sorted)
		if best == nil {
			continue
		}

		// Disambiguation bonus: no other channel scores as high for this role.
		if runnerUp == nil || best.score > runnerUp.score {
			best.score += disambiguateBonus
			best.reasons = append(best.reasons, "no competing channel for role")
		}
		if best.score > 1.0 {
			best.score = 1.0
		}
		if best.score < e.minConfidence {
			continue
		}

		mappings = append(mappings, MappingConfidence{
			CanonicalName:   spec.role,
			SourceChannelID: best.channel.ChannelID,
			ChannelName:     best.channel.Name,
			Unit:            best.channel.Unit.String(),
			Confidence:      best.score,
			Reasons:         best.reasons,
			Warnings:        best.warnings,
			Transform:       best.transform,
		})
	}
	return mappings
}

// scoreRole evaluates all channels for one role, returning the best and the
// runner-up (for the disambiguation bonus).
func (e *Engine) scoreRole(spec roleSpec, channels []protocol.ChannelDescriptor) (best, runnerUp *candidate) {
	for _, ch := range channels {
		cand := scoreChannel(spec, ch)
		if cand.score <= 0 {
			continue
		}
		c := cand
		switch {
		case best == nil || c.score > best.score:
			runnerUp = best
			best = &c
		case runnerUp == nil || c.score > runnerUp.score:
			runnerUp = &c
		}
	}
	return best, runnerUp
}

// scoreChannel computes the base score of one channel for one role.
func scoreChannel(spec roleSpec, ch protocol.ChannelDescriptor) candidate {
	cand := candidate{channel: ch, transform: TransformIdentity}

	switch {
	case ch.Unit == spec.unit:
		cand.score += unitMatchScore
		cand.reasons = append(cand.reasons,
			fmt.Sprintf("unit %s matches role %s", ch.Unit, spec.role))
	case spec.convertible != nil:
		if transform, ok := spec.convertible[ch.Unit]; ok {
			cand.score += convertibleScore
			cand.transform = transform
			cand.reasons = append(cand.reasons,
				fmt.Sprintf("unit %s convertible to role %s", ch.Unit, spec.role))
			cand.warnings = append(cand.warnings,
				fmt.Sprintf("channel %q reports %s; values converted via %s", ch.Name, ch.Unit, transform))
		}
	}

	name := strings.ToLower(ch.Name)
	for _, pattern := range spec.patterns {
		if strings.Contains(name, pattern) {
			cand.score += nameMatchScore
			cand.reasons = append(cand.reasons,
				fmt.Sprintf("name %q contains %q", ch.Name, pattern))
			break
		}
	}
	return cand
}

// Ready reports whether the mapping set satisfies session readiness: every
// required role mapped, each at or above the readiness threshold, or, for
// convertible-unit mappings, above the acceptance floor with the
// low-confidence warning attached so the operator sees why.
func (e *Engine) Ready(mappings []MappingConfidence) bool {
	byRole := make(map[Role]MappingConfidence, len(mappings))
	for _, m := range mappings {
		byRole[m.CanonicalName] = m
	}

	for _, role := range RequiredRoles() {
		m, ok := byRole[role]
		if !ok {
			return false
		}
		if m.Confidence >= e.readyConfidence {
			continue
		}
		// Below the readiness threshold with no warning trail means the
		// mapping is simply weak, not a flagged unit conversion.
		if len(m.Warnings) == 0 {
			return false
		}
	}
	return true
}
