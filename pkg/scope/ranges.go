// Legal value sets and bounds for interdependent oscilloscope settings
//
// The tier boundaries and ladders in this file are device calibration
// constants taken from the instrument's vertical and horizontal systems.
// They must be reproduced exactly, not generalized.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package scope

import "math"

// Range is a closed numeric interval.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Span returns Max - Min.
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// OffsetRange returns the legal vertical-offset interval for the given
// vertical scale (volts/div) and probe ratio.
func OffsetRange(scale, probeRatio float64) Range {
	if probeRatio > 1 {
		switch {
		case scale < 0.5:
			return Range{-20, 20}
		case scale >= 5:
			return Range{-1000, 1000}
		default:
			return Range{-100, 100}
		}
	}
	switch {
	case scale < 0.5:
		return Range{-2, 2}
	case scale >= 5:
		return Range{-1000, 1000}
	default:
		return Range{-20, 20}
	}
}

// ClampOffset clamps v into the given range. Clamping is idempotent.
func ClampOffset(v float64, r Range) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// TickStep returns the slider tick step for an offset range. Derived
// from the same tiering as OffsetRange; used by presentation layers.
func TickStep(r Range) float64 {
	switch span := r.Span(); {
	case span <= 4:
		return 0.2
	case span <= 40:
		return 2
	case span <= 200:
		return 20
	default:
		return 200
	}
}

// baseScaleLadder is the 1-2-5 vertical ladder at probe ratio 1x,
// 1 mV/div through 10 V/div.
var baseScaleLadder = []float64{
	0.001, 0.002, 0.005,
	0.01, 0.02, 0.05,
	0.1, 0.2, 0.5,
	1, 2, 5, 10,
}

// ScaleLadder returns the ordered legal vertical scale values for a
// probe ratio. Ladders for different probe ratios are disjoint: the
// instrument multiplies the displayed scale by the probe attenuation.
func ScaleLadder(probeRatio float64) []float64 {
	ladder := make([]float64, len(baseScaleLadder))
	for i, s := range baseScaleLadder {
		// Keep the ladder entries exact (0.005 * 10 must be 0.05, not
		// 0.049999...) so they format cleanly on the wire.
		ladder[i] = math.Round(s*probeRatio*1e9) / 1e9
	}
	return ladder
}

// SnapScale snaps v onto the scale ladder for the probe ratio, choosing
// the nearest legal value.
func SnapScale(v, probeRatio float64) float64 {
	return snapToLadder(v, ScaleLadder(probeRatio))
}

// timebaseLadder is the 1-2-5 horizontal ladder, 5 ns/div through
// 50 s/div.
var timebaseLadder = buildTimebaseLadder()

func buildTimebaseLadder() []float64 {
	var ladder []float64
	for exp := -9; exp <= 1; exp++ {
		decade := math.Pow(10, float64(exp))
		for _, m := range []float64{1, 2, 5} {
			v := m * decade
			if v < 5e-9 || v > 50 {
				continue
			}
			ladder = append(ladder, v)
		}
	}
	return ladder
}

// TimebaseLadder returns the ordered legal main timebase scale values.
func TimebaseLadder() []float64 {
	ladder := make([]float64, len(timebaseLadder))
	copy(ladder, timebaseLadder)
	return ladder
}

// SnapTimebaseScale snaps v onto the main timebase ladder.
func SnapTimebaseScale(v float64) float64 {
	return snapToLadder(v, timebaseLadder)
}

// snapToLadder returns the ladder entry closest to v. Values outside the
// ladder clamp to its ends. Comparison is done in log space so that a
// value between two decades snaps to the perceptually nearer step.
func snapToLadder(v float64, ladder []float64) float64 {
	if len(ladder) == 0 {
		return v
	}
	if v <= ladder[0] {
		return ladder[0]
	}
	if v >= ladder[len(ladder)-1] {
		return ladder[len(ladder)-1]
	}
	best := ladder[0]
	bestDist := math.Inf(1)
	lv := math.Log(v)
	for _, step := range ladder {
		d := math.Abs(math.Log(step) - lv)
		if d < bestDist {
			bestDist = d
			best = step
		}
	}
	return best
}

// TriggerLevelRange returns the legal trigger level interval for the
// source channel's vertical scale and offset: the level must stay on
// screen, five divisions either side of center shifted by the offset.
func TriggerLevelRange(scale, offset float64) Range {
	return Range{-5*scale - offset, 5*scale - offset}
}

// HoldoffRange is the legal trigger holdoff interval in seconds.
var HoldoffRange = Range{16e-9, 10}

// ClampHoldoff clamps a trigger holdoff into its legal interval.
func ClampHoldoff(v float64) float64 {
	return ClampOffset(v, HoldoffRange)
}
