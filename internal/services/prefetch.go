package services

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
	"github.com/dpup/ride.ersn.net/server/internal/lib/playback"
	"github.com/dpup/ride.ersn.net/server/internal/lib/sampler"
)

const prefetchTimeout = 10 * time.Second

// Prefetcher warms the panorama cache for samples just ahead of the playback
// position, so the next few ticks resolve from cache. It is shared by all
// rides; a point already being fetched is not fetched again.
type Prefetcher struct {
	resolver playback.Resolver
	radius   float64
	ahead    int

	mu       sync.Mutex
	inflight map[geo.Point]struct{}
	slots    chan struct{}
	wg       sync.WaitGroup
}

// NewPrefetcher creates a prefetcher that looks ahead samples past the
// current index, with at most concurrency lookups running at once.
func NewPrefetcher(resolver playback.Resolver, radiusMeters float64, ahead, concurrency int) *Prefetcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Prefetcher{
		resolver: resolver,
		radius:   radiusMeters,
		ahead:    ahead,
		inflight: make(map[geo.Point]struct{}),
		slots:    make(chan struct{}, concurrency),
	}
}

// Warm schedules lookups for the samples after index and returns how many
// were started. Lookups that would exceed the concurrency limit are dropped.
func (p *Prefetcher) Warm(ctx context.Context, seq sampler.Sequence, index int) int {
	if p == nil || p.ahead <= 0 {
		return 0
	}

	ctx = logging.EnsureLogger(ctx)
	started := 0
	for i := index + 1; i < len(seq) && i <= index+p.ahead; i++ {
		point := seq[i].Coordinate
		if !p.claim(point) {
			continue
		}

		select {
		case p.slots <- struct{}{}:
		default:
			p.release(point)
			return started
		}

		started++
		p.wg.Add(1)
		go p.fetch(ctx, point)
	}
	return started
}

// Wait blocks until every scheduled lookup has finished
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

func (p *Prefetcher) fetch(ctx context.Context, point geo.Point) {
	defer p.wg.Done()
	defer func() { <-p.slots }()
	defer p.release(point)

	fetchCtx, cancel := context.WithTimeout(ctx, prefetchTimeout)
	defer cancel()

	if _, err := p.resolver.Resolve(fetchCtx, point, p.radius); err != nil && ctx.Err() == nil {
		logging.Debugw(ctx, "Prefetch: panorama lookup failed", "lat", point.Latitude, "lng", point.Longitude, "error", err)
	}
}

func (p *Prefetcher) claim(point geo.Point) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[point]; busy {
		return false
	}
	p.inflight[point] = struct{}{}
	return true
}

func (p *Prefetcher) release(point geo.Point) {
	p.mu.Lock()
	delete(p.inflight, point)
	p.mu.Unlock()
}
