// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package analysis

import "time"

// Alert rule names, used as the metric label and in API output.
const (
	RuleFrozen     = "frozen"
	RuleOutOfRange = "out_of_range"
	RuleSilent     = "channel-silent"
)

// Alert is one raised condition. Alerts stay active until the condition
// clears; the engine never raises the same rule twice for a channel while it
// is already active.
type Alert struct {
	Rule     string    `json:"rule"`
	Channel  string    `json:"channel"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raised_at"`
}

type valueRange struct {
	min, max float64
}

func (r valueRange) contains(v float64) bool {
	return v >= r.min && v <= r.max
}

// plausibleRanges bound physically sensible readings per canonical channel.
// Readings outside the range indicate sensor or mapping trouble, not engine
// behavior worth recording.
var plausibleRanges = map[string]valueRange{
	"rpm":           {0, 22000},
	"afr_front":     {5, 25},
	"afr_rear":      {5, 25},
	"map":           {0, 500},
	"tps":           {-5, 105},
	"torque":        {-100, 3000},
	"power":         {-50, 1500},
	"coolant_temp":  {-40, 150},
	"intake_temp":   {-40, 120},
	"exhaust_temp":  {0, 1200},
	"vehicle_speed": {0, 400},
	"gear":          {0, 10},
}
