// Package panorama resolves sample coordinates to street-level panoramas.
package panorama

import (
	"context"
	"fmt"
	"time"

	"github.com/dpup/ride.ersn.net/server/internal/cache"
	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
)

// DefaultCacheTTL bounds how long lookups are reused across seeks and regenerations
const DefaultCacheTTL = 30 * time.Minute

// Resolver finds usable panoramas near coordinates
type Resolver struct {
	provider  Provider
	describer Describer
	cache     *cache.Cache
	ttl       time.Duration
}

// NewResolver creates a Resolver. describer and c may be nil.
func NewResolver(provider Provider, describer Describer, c *cache.Cache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{
		provider:  provider,
		describer: describer,
		cache:     c,
		ttl:       ttl,
	}
}

// Probe performs a cheap existence check for imagery near point
func (r *Resolver) Probe(ctx context.Context, point geo.Point, radiusMeters float64) (Outcome, error) {
	key := cacheKey("panorama", point, radiusMeters)
	if outcome, ok := r.cached(key); ok {
		return outcome, nil
	}

	meta, err := r.provider.LookupPanorama(ctx, point, radiusMeters)
	if err != nil {
		return Outcome{}, fmt.Errorf("panorama lookup failed: %w", err)
	}

	outcome, err := outcomeFromMetadata(meta)
	if err != nil {
		return Outcome{}, err
	}

	r.store(key, outcome)
	return outcome, nil
}

// Resolve performs a full lookup, including a place description for the
// panorama location. Description failures never fail the resolution.
func (r *Resolver) Resolve(ctx context.Context, point geo.Point, radiusMeters float64) (Outcome, error) {
	key := cacheKey("panorama-detail", point, radiusMeters)
	if outcome, ok := r.cached(key); ok {
		return outcome, nil
	}

	outcome, err := r.Probe(ctx, point, radiusMeters)
	if err != nil || !outcome.Found {
		return outcome, err
	}

	if r.describer != nil {
		if description, err := r.describer.ReverseGeocode(ctx, outcome.Location); err == nil {
			outcome.Description = description
		}
	}

	r.store(key, outcome)
	return outcome, nil
}

func outcomeFromMetadata(meta *Metadata) (Outcome, error) {
	if meta == nil {
		return Outcome{}, fmt.Errorf("panorama lookup returned no metadata")
	}

	switch meta.Status {
	case StatusOK:
		if meta.PanoramaID == "" {
			return Outcome{Found: false, Reason: "panorama metadata missing id"}, nil
		}
		return Outcome{
			Found:      true,
			PanoramaID: meta.PanoramaID,
			Location:   meta.Location,
		}, nil
	case StatusZeroResults, StatusNotFound:
		return Outcome{Found: false, Reason: string(meta.Status)}, nil
	default:
		return Outcome{}, fmt.Errorf("panorama lookup status %s", meta.Status)
	}
}

func (r *Resolver) cached(key string) (Outcome, bool) {
	if r.cache == nil {
		return Outcome{}, false
	}
	var outcome Outcome
	found, err := r.cache.Get(key, &outcome)
	if err != nil || !found {
		return Outcome{}, false
	}
	return outcome, true
}

func (r *Resolver) store(key string, outcome Outcome) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Set(key, outcome, r.ttl, "panorama")
}

// cacheKey rounds to ~1cm so identical samples share entries
func cacheKey(prefix string, p geo.Point, radius float64) string {
	return fmt.Sprintf("%s:%.7f,%.7f:%.0f", prefix, p.Latitude, p.Longitude, radius)
}
