package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
	"github.com/dpup/ride.ersn.net/server/internal/lib/panorama"
	"github.com/dpup/ride.ersn.net/server/internal/lib/sampler"
)

// ErrNoImagery is returned when no sample in a sequence has a panorama
var ErrNoImagery = errors.New("no imagery available on this route")

// Resolver is the subset of panorama.Resolver used during playback
type Resolver interface {
	Probe(ctx context.Context, point geo.Point, radiusMeters float64) (panorama.Outcome, error)
	Resolve(ctx context.Context, point geo.Point, radiusMeters float64) (panorama.Outcome, error)
}

// Placement is a resolvable starting position
type Placement struct {
	Index   int
	Outcome panorama.Outcome
}

// FindInitial scans forward from start for the first sample with imagery.
// Each sample is probed for existence; the full lookup runs only for the
// sample that is chosen.
func FindInitial(ctx context.Context, r Resolver, seq sampler.Sequence, start int, radiusMeters float64) (Placement, error) {
	if len(seq) == 0 {
		return Placement{Index: -1}, ErrNoImagery
	}
	if start < 0 {
		start = 0
	}

	for i := start; i < len(seq); i++ {
		if err := ctx.Err(); err != nil {
			return Placement{Index: -1}, err
		}

		probe, err := r.Probe(ctx, seq[i].Coordinate, radiusMeters)
		if err != nil {
			return Placement{Index: -1}, fmt.Errorf("probing sample %d: %w", i, err)
		}
		if !probe.Found {
			continue
		}

		detail, err := r.Resolve(ctx, seq[i].Coordinate, radiusMeters)
		if err != nil {
			return Placement{Index: -1}, fmt.Errorf("resolving sample %d: %w", i, err)
		}
		if !detail.Found {
			continue
		}
		return Placement{Index: i, Outcome: detail}, nil
	}

	return Placement{Index: -1}, ErrNoImagery
}
