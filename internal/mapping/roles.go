// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

// Package mapping resolves vendor channel names to canonical semantic roles.
//
// Hardware-supplied names are never trusted directly: every channel is
// scored against an explicit role table using unit compatibility and name
// heuristics, and the result carries a confidence value plus a reason trail
// so the mapping stays auditable. Mappings are written once per discovery
// pass and read thereafter.
package mapping

import (
	"strings"

	"github.com/dynolink/dynolink/internal/protocol"
)

// Role is a canonical semantic channel name downstream logic depends on,
// independent of vendor naming.
type Role string

const (
	RoleRPM          Role = "rpm"
	RoleAFRFront     Role = "afr_front"
	RoleAFRRear      Role = "afr_rear"
	RoleMAP          Role = "map"
	RoleTPS          Role = "tps"
	RoleTorque       Role = "torque"
	RolePower        Role = "power"
	RoleCoolantTemp  Role = "coolant_temp"
	RoleIntakeTemp   Role = "intake_temp"
	RoleExhaustTemp  Role = "exhaust_temp"
	RoleVehicleSpeed Role = "vehicle_speed"
	RoleGear         Role = "gear"
)

// Transform converts a source channel's values into the role's unit.
type Transform string

const (
	TransformIdentity    Transform = "identity"
	TransformLambdaToAFR Transform = "lambda_to_afr"
)

// stoichiometricAFR is the gasoline stoichiometric ratio used to convert
// lambda readings to AFR.
const stoichiometricAFR = 14.7

// Apply converts one reading.
func (t Transform) Apply(value float64) float64 {
	switch t {
	case TransformLambdaToAFR:
		return value * stoichiometricAFR
	default:
		return value
	}
}

// roleSpec describes how one canonical role is recognized.
type roleSpec struct {
	role Role

	// unit is the expected physical unit for the role.
	unit protocol.Unit

	// patterns are lowercase substrings expected in vendor channel names.
	patterns []string

	// convertible maps accepted foreign units to the transform that
	// normalizes them. Accepting one attaches a warning.
	convertible map[protocol.Unit]Transform

	// required roles gate session readiness.
	required bool
}

// roleTable is the versioned role catalog, ordered for deterministic
// auto-mapping output.
var roleTable = []roleSpec{
	{
		role:     RoleRPM,
		unit:     protocol.UnitRPM,
		patterns: []string{"rpm", "engine speed", "engspeed", "revs", "tach"},
		required: true,
	},
	{
		role:        RoleAFRFront,
		unit:        protocol.UnitAFR,
		patterns:    []string{"afr", "wideband", "air/fuel", "air fuel", "o2"},
		convertible: map[protocol.Unit]Transform{protocol.UnitLambda: TransformLambdaToAFR},
		required:    true,
	},
	{
		role:        RoleAFRRear,
		unit:        protocol.UnitAFR,
		patterns:    []string{"afr 2", "afr2", "wideband 2", "wideband2", "rear"},
		convertible: map[protocol.Unit]Transform{protocol.UnitLambda: TransformLambdaToAFR},
	},
	{
		role:     RoleMAP,
		unit:     protocol.UnitKPa,
		patterns: []string{"map", "manifold", "boost"},
	},
	{
		role:     RoleTPS,
		unit:     protocol.UnitPercent,
		patterns: []string{"tps", "throttle"},
	},
	{
		role:     RoleTorque,
		unit:     protocol.UnitNewtonMeter,
		patterns: []string{"torque", "tq"},
	},
	{
		role:     RolePower,
		unit:     protocol.UnitKilowatt,
		patterns: []string{"power", "kw", "hp"},
	},
	{
		role:     RoleCoolantTemp,
		unit:     protocol.UnitCelsius,
		patterns: []string{"coolant", "clt", "water temp"},
	},
	{
		role:     RoleIntakeTemp,
		unit:     protocol.UnitCelsius,
		patterns: []string{"iat", "intake temp", "air temp"},
	},
	{
		role:     RoleExhaustTemp,
		unit:     protocol.UnitCelsius,
		patterns: []string{"egt", "exhaust"},
	},
	{
		role:     RoleVehicleSpeed,
		unit:     protocol.UnitKmh,
		patterns: []string{"speed", "vss"},
	},
	{
		role:     RoleGear,
		unit:     protocol.UnitNone,
		patterns: []string{"gear"},
	},
}

// MatchColumn resolves a bare column name (no unit metadata available, as in
// CSV imports) to a role using the name patterns alone. The first role whose
// pattern matches wins, in role table order.
func MatchColumn(name string) (Role, bool) {
	lowered := strings.ToLower(name)
	for _, spec := range roleTable {
		for _, pattern := range spec.patterns {
			if strings.Contains(lowered, pattern) {
				return spec.role, true
			}
		}
	}
	return "", false
}

// RequiredRoles returns the roles that gate session readiness.
func RequiredRoles() []Role {
	var required []Role
	for _, spec := range roleTable {
		if spec.required {
			required = append(required, spec.role)
		}
	}
	return required
}
