// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package protocol

import "strconv"

// Unit is the physical unit a channel declares for its values. The numeric
// values are part of the wire format and must not be reordered.
type Unit uint16

const (
	UnitNone Unit = iota
	UnitRPM
	UnitAFR
	UnitLambda
	UnitKPa
	UnitPercent
	UnitNewtonMeter
	UnitKilowatt
	UnitCelsius
	UnitKmh
	UnitVolt
	UnitMillisecond
)

var unitNames = map[Unit]string{
	UnitNone:        "none",
	UnitRPM:         "rpm",
	UnitAFR:         "afr",
	UnitLambda:      "lambda",
	UnitKPa:         "kpa",
	UnitPercent:     "percent",
	UnitNewtonMeter: "nm",
	UnitKilowatt:    "kw",
	UnitCelsius:     "celsius",
	UnitKmh:         "kmh",
	UnitVolt:        "volt",
	UnitMillisecond: "ms",
}

// String returns the unit name, or "unit(N)" for values outside the known set.
// Hardware may advertise units this build does not know about; they are
// carried through untouched rather than rejected.
func (u Unit) String() string {
	if name, ok := unitNames[u]; ok {
		return name
	}
	return "unit(" + strconv.Itoa(int(u)) + ")"
}
