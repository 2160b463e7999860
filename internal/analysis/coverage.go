// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package analysis

import (
	"math"
	"sort"
)

// cellKey addresses one rpm x map bucket in the coverage grid.
type cellKey struct {
	rpm int
	kpa int
}

// cell accumulates AFR readings observed while the engine operated inside
// one grid bucket.
type cell struct {
	samples  int
	afrSum   float64
	afrCount int
}

// CoverageCell is the exported view of one visited grid bucket, including
// the running AFR delta against the tuning target.
type CoverageCell struct {
	RPMLow   float64 `json:"rpm_low"`
	MAPLow   float64 `json:"map_low"`
	Samples  int     `json:"samples"`
	MeanAFR  float64 `json:"mean_afr,omitempty"`
	AFRDelta float64 `json:"afr_delta,omitempty"`
}

// coverageGrid tracks which operating-point buckets a run has visited.
type coverageGrid struct {
	rpmBucket float64
	mapBucket float64
	cells     map[cellKey]*cell
}

func newCoverageGrid(rpmBucket, mapBucket float64) *coverageGrid {
	return &coverageGrid{
		rpmBucket: rpmBucket,
		mapBucket: mapBucket,
		cells:     make(map[cellKey]*cell),
	}
}

func (g *coverageGrid) key(rpm, kpa float64) cellKey {
	return cellKey{
		rpm: int(math.Floor(rpm / g.rpmBucket)),
		kpa: int(math.Floor(kpa / g.mapBucket)),
	}
}

// visit records one aggregation window spent at the operating point.
func (g *coverageGrid) visit(rpm, kpa float64) *cell {
	k := g.key(rpm, kpa)
	c, ok := g.cells[k]
	if !ok {
		c = &cell{}
		g.cells[k] = c
	}
	c.samples++
	return c
}

// recordAFR folds an AFR reading into the current operating-point cell.
func (g *coverageGrid) recordAFR(rpm, kpa, afr float64) {
	c := g.visit(rpm, kpa)
	c.afrSum += afr
	c.afrCount++
}

// snapshot exports visited cells ordered by rpm then map bucket.
func (g *coverageGrid) snapshot(afrTarget float64) []CoverageCell {
	out := make([]CoverageCell, 0, len(g.cells))
	for k, c := range g.cells {
		cc := CoverageCell{
			RPMLow:  float64(k.rpm) * g.rpmBucket,
			MAPLow:  float64(k.kpa) * g.mapBucket,
			Samples: c.samples,
		}
		if c.afrCount > 0 {
			cc.MeanAFR = c.afrSum / float64(c.afrCount)
			cc.AFRDelta = cc.MeanAFR - afrTarget
		}
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RPMLow != out[j].RPMLow {
			return out[i].RPMLow < out[j].RPMLow
		}
		return out[i].MAPLow < out[j].MAPLow
	})
	return out
}
