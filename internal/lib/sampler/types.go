package sampler

import "github.com/dpup/ride.ersn.net/server/internal/lib/geo"

// RouteInstruction is one turn-by-turn directive with its own polyline geometry.
// Produced once per routing request and never modified afterward.
type RouteInstruction struct {
	Path         []geo.Point `json:"path"`
	Instruction  string      `json:"instruction"`
	DistanceText string      `json:"distance_text"`
	DurationText string      `json:"duration_text"`
}

// PathSample is one evenly spaced point on the simulated route
type PathSample struct {
	Coordinate             geo.Point `json:"coordinate"`
	SourceInstructionIndex int       `json:"source_instruction_index"`
}

// Sequence is an ordered, immutable list of samples. It is regenerated
// wholesale whenever the instructions or the spacing change.
type Sequence []PathSample

// Points returns the sample coordinates in order
func (s Sequence) Points() []geo.Point {
	points := make([]geo.Point, len(s))
	for i, sample := range s {
		points[i] = sample.Coordinate
	}
	return points
}

// Last returns the index of the final sample, or -1 for an empty sequence
func (s Sequence) Last() int {
	return len(s) - 1
}
