// Package sampler converts routing polylines into evenly spaced,
// instruction-tagged sample sequences for panorama playback.
package sampler

import (
	"math"

	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
)

// NegligibleSegmentMeters is the length under which a segment is treated as a single point
const NegligibleSegmentMeters = 0.1

// Sample walks every instruction's polyline and emits a point every
// spacingMeters along each segment, plus the exact segment end point.
// The result never contains two consecutive identical coordinates and
// source instruction indexes are non-decreasing.
func Sample(instructions []RouteInstruction, spacingMeters float64) Sequence {
	var raw Sequence

	for idx, instruction := range instructions {
		path := instruction.Path
		if len(path) == 0 {
			continue
		}

		raw = appendUnique(raw, PathSample{Coordinate: path[0], SourceInstructionIndex: idx})

		for i := 0; i < len(path)-1; i++ {
			raw = sampleSegment(raw, path[i], path[i+1], spacingMeters, idx)
		}
	}

	return dedupe(raw)
}

// sampleSegment emits offset points from a toward b followed by b itself
func sampleSegment(out Sequence, a, b geo.Point, spacing float64, idx int) Sequence {
	length := geo.Distance(a, b)
	if length < NegligibleSegmentMeters {
		return appendUnique(out, PathSample{Coordinate: b, SourceInstructionIndex: idx})
	}

	if spacing > 0 && !math.IsInf(spacing, 1) {
		heading := geo.Heading(a, b)
		current := a
		walked := 0.0
		for walked+spacing < length {
			current = geo.Offset(current, spacing, heading)
			out = append(out, PathSample{Coordinate: current, SourceInstructionIndex: idx})
			walked += spacing
		}
	}

	// Anchor on the original vertex so offset error never accumulates
	return appendUnique(out, PathSample{Coordinate: b, SourceInstructionIndex: idx})
}

func appendUnique(out Sequence, s PathSample) Sequence {
	if n := len(out); n > 0 && out[n-1].Coordinate.Equal(s.Coordinate) {
		out[n-1].SourceInstructionIndex = s.SourceInstructionIndex
		return out
	}
	return append(out, s)
}

// dedupe collapses runs of identical coordinates, keeping the last source index seen
func dedupe(raw Sequence) Sequence {
	if len(raw) == 0 {
		return Sequence{}
	}

	out := make(Sequence, 0, len(raw))
	for _, s := range raw {
		out = appendUnique(out, s)
	}
	return out
}

// NearestIndex returns the index of the sample closest to p by great-circle
// distance. Ties resolve to the smallest index. Returns -1 for an empty sequence.
func NearestIndex(seq Sequence, p geo.Point) int {
	best := -1
	bestDistance := math.Inf(1)
	for i, s := range seq {
		d := geo.Distance(s.Coordinate, p)
		if d < bestDistance {
			best = i
			bestDistance = d
		}
	}
	return best
}
