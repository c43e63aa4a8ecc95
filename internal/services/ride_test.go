package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
	"google.golang.org/grpc/codes"

	"github.com/dpup/ride.ersn.net/server/internal/clients/google"
	"github.com/dpup/ride.ersn.net/server/internal/config"
	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
	"github.com/dpup/ride.ersn.net/server/internal/lib/i18n"
	"github.com/dpup/ride.ersn.net/server/internal/lib/panorama"
	"github.com/dpup/ride.ersn.net/server/internal/lib/playback"
	"github.com/dpup/ride.ersn.net/server/internal/lib/sampler"
	"github.com/dpup/ride.ersn.net/server/internal/store"
)

var english = i18n.New(language.English)

func pt(lat, lng float64) geo.Point {
	return geo.Point{Latitude: lat, Longitude: lng}
}

// testInstructions is a ~2.2km drive due east along the equator
func testInstructions() []sampler.RouteInstruction {
	return []sampler.RouteInstruction{
		{Path: []geo.Point{pt(0, 0), pt(0, 0.01)}, Instruction: "Head east on Main St", DistanceText: "1.1 km", DurationText: "1 min"},
		{Path: []geo.Point{pt(0, 0.01), pt(0, 0.02)}, Instruction: "Continue onto CA-4 E", DistanceText: "1.1 km", DurationText: "1 min"},
	}
}

func testDirections() *google.Directions {
	return &google.Directions{
		Instructions:  testInstructions(),
		Summary:       "CA-4 E",
		TotalDistance: "2.2 km",
		TotalDuration: "2 mins",
		StartAddress:  "Angels Camp, CA",
		EndAddress:    "Murphys, CA",
		Origin:        pt(0, 0),
		Destination:   pt(0, 0.02),
	}
}

type fakeRouter struct {
	mu     sync.Mutex
	routes map[string]*google.Directions
	gates  map[string]chan struct{}
	err    error
	calls  int
}

func (f *fakeRouter) Directions(ctx context.Context, origin, destination, lang string) (*google.Directions, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[origin]
	dirs, ok := f.routes[origin]
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return testDirections(), nil
	}
	return dirs, nil
}

func (f *fakeRouter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct {
	mu      sync.Mutex
	missing map[geo.Point]bool
	gate    chan struct{}
}

func (f *fakeResolver) lookup(ctx context.Context, p geo.Point) (panorama.Outcome, error) {
	f.mu.Lock()
	gate := f.gate
	missing := f.missing[p]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return panorama.Outcome{}, ctx.Err()
		}
	}
	if missing {
		return panorama.Outcome{Found: false, Location: p, Reason: string(panorama.StatusZeroResults)}, nil
	}
	return panorama.Outcome{
		Found:       true,
		PanoramaID:  fmt.Sprintf("pano-%.5f-%.5f", p.Latitude, p.Longitude),
		Location:    p,
		Description: "Main St",
	}, nil
}

func (f *fakeResolver) Probe(ctx context.Context, p geo.Point, radius float64) (panorama.Outcome, error) {
	return f.lookup(ctx, p)
}

func (f *fakeResolver) Resolve(ctx context.Context, p geo.Point, radius float64) (panorama.Outcome, error) {
	return f.lookup(ctx, p)
}

func (f *fakeResolver) setMissing(points ...geo.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing == nil {
		f.missing = map[geo.Point]bool{}
	}
	for _, p := range points {
		f.missing[p] = true
	}
}

type fakeNarrator struct{}

func (fakeNarrator) Narrate(ctx context.Context, origin, destination string, lang language.Tag) (string, error) {
	return fmt.Sprintf("[%s] %s to %s", lang, origin, destination), nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []store.Entry
}

func (f *fakeRecorder) Record(ctx context.Context, e store.Entry) (*store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, e)
	return &e, nil
}

func (f *fakeRecorder) Entries() []store.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Entry(nil), f.entries...)
}

// testClock drives playback by hand; ticks are only delivered by tick/advance
type testClock struct {
	mu    sync.Mutex
	now   time.Time
	ticks chan time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC), ticks: make(chan time.Time)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Ticker(time.Duration) (<-chan time.Time, func()) {
	return c.ticks, func() {}
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	c.ticks <- now
}

func (c *testClock) tick() {
	c.ticks <- c.Now()
}

type rideFixture struct {
	ride     *Ride
	clock    *testClock
	router   *fakeRouter
	resolver *fakeResolver
	recorder *fakeRecorder
	config   config.PlaybackConfig
}

func newRideFixture(t *testing.T) *rideFixture {
	t.Helper()
	f := &rideFixture{
		clock:    newTestClock(),
		router:   &fakeRouter{},
		resolver: &fakeResolver{},
		recorder: &fakeRecorder{},
		config:   config.DefaultConfig().Playback,
	}
	f.ride = NewRide(context.Background(), "ride-1", RideDeps{
		Router:   f.router,
		Resolver: f.resolver,
		Narrator: fakeNarrator{},
		History:  f.recorder,
		Config:   f.config,
		Now:      f.clock.Now,
		Ticker:   f.clock.Ticker,
	}, language.English)
	t.Cleanup(f.ride.Close)
	return f
}

func (f *rideFixture) sequence(spacing float64) sampler.Sequence {
	return sampler.Sample(testInstructions(), spacing)
}

func (f *rideFixture) snapshot(t *testing.T) Snapshot {
	t.Helper()
	snap, err := f.ride.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func waitFor(t *testing.T, ride *Ride, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, err := ride.Snapshot(context.Background())
		if err != nil {
			return false
		}
		snap = s
		return cond(s)
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

// pump keeps delivering ticks at the current time until cond holds
func (f *rideFixture) pump(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		f.clock.tick()
		s, err := f.ride.Snapshot(context.Background())
		if err != nil {
			return false
		}
		snap = s
		return cond(s)
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func positioned(s Snapshot) bool {
	return s.Route != nil && !s.Playback.Locating && s.Map.Position != nil
}

func (f *rideFixture) load(t *testing.T) Snapshot {
	t.Helper()
	require.NoError(t, f.ride.Search(context.Background(), "Angels Camp, CA", "Murphys, CA"))
	return waitFor(t, f.ride, positioned)
}

// step advances one playback interval and waits for the index to change
func (f *rideFixture) step(t *testing.T, want int) Snapshot {
	t.Helper()
	f.clock.advance(f.config.DefaultSpeed)
	return waitFor(t, f.ride, func(s Snapshot) bool { return s.Playback.CurrentIndex == want })
}

func segmentText(i, n int) string {
	return english.Text(i18n.Segment, i, n)
}

func TestRide_InitialSnapshot(t *testing.T) {
	f := newRideFixture(t)
	snap := f.snapshot(t)

	assert.Equal(t, "ride-1", snap.ID)
	assert.Equal(t, "en", snap.Language)
	assert.Equal(t, playback.Stopped, snap.Playback.Status)
	assert.Equal(t, -1, snap.Playback.CurrentIndex)
	assert.Equal(t, 0, snap.Playback.SampleCount)
	assert.Equal(t, int64(1500), snap.Playback.SpeedMillis)
	assert.Equal(t, 200.0, snap.Playback.SpacingMeters)
	assert.Equal(t, english.Text(i18n.InitialPrompt), snap.Playback.Message)
	assert.Nil(t, snap.Route)
	assert.False(t, snap.Panorama.Visible)
}

func TestRide_SearchRequiresBothLocations(t *testing.T) {
	f := newRideFixture(t)

	err := f.ride.Search(context.Background(), "  ", "Murphys, CA")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))
	assert.Equal(t, english.Text(i18n.EnterStartEnd), err.Error())
	assert.Equal(t, 0, f.router.Calls())

	snap := f.snapshot(t)
	assert.False(t, snap.Searching)
	assert.Nil(t, snap.Route)
}

func TestRide_SearchZeroResults(t *testing.T) {
	f := newRideFixture(t)
	f.router.err = &google.RouteError{Category: google.CategoryZeroResults, Status: "ZERO_RESULTS"}

	require.NoError(t, f.ride.Search(context.Background(), "Honolulu, HI", "Tokyo, Japan"))
	snap := waitFor(t, f.ride, func(s Snapshot) bool { return !s.Searching })

	assert.Nil(t, snap.Route)
	assert.Equal(t, "No route could be found between the specified locations.", snap.Error)
	assert.Equal(t, 0, snap.Playback.SampleCount)
	assert.Equal(t, playback.Stopped, snap.Playback.Status)
	assert.Empty(t, f.recorder.Entries())
}

func TestRide_SearchErrorCategories(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want i18n.Key
	}{
		{"not found", &google.RouteError{Category: google.CategoryNotFound}, i18n.RouteErrorNotFound},
		{"denied", &google.RouteError{Category: google.CategoryRequestDenied}, i18n.RouteErrorDenied},
		{"quota", &google.RouteError{Category: google.CategoryOverQuota}, i18n.RouteErrorOverQuota},
		{"generic", &google.RouteError{Category: google.CategoryGeneric}, i18n.RouteErrorDefault},
		{"transport", fmt.Errorf("connection reset"), i18n.RouteErrorDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRideFixture(t)
			f.router.err = tt.err

			require.NoError(t, f.ride.Search(context.Background(), "a", "b"))
			snap := waitFor(t, f.ride, func(s Snapshot) bool { return !s.Searching })
			assert.Equal(t, english.Text(tt.want), snap.Error)
		})
	}
}

func TestRide_SearchLoadsRoute(t *testing.T) {
	f := newRideFixture(t)
	snap := f.load(t)
	seq := f.sequence(200)

	require.NotNil(t, snap.Route)
	assert.Equal(t, "Angels Camp, CA", snap.Route.Origin)
	assert.Equal(t, "CA-4 E", snap.Route.Summary)
	assert.Empty(t, snap.Error)
	assert.Equal(t, len(seq), snap.Playback.SampleCount)
	assert.Equal(t, playback.Stopped, snap.Playback.Status)
	assert.Equal(t, 0, snap.Playback.CurrentIndex)
	assert.Equal(t, english.Text(i18n.RouteLoaded), snap.Playback.Message)

	assert.True(t, snap.Panorama.Visible)
	assert.Equal(t, "View from: Main St", snap.Panorama.Caption)
	assert.InDelta(t, 90, snap.Panorama.Heading, 0.01, "camera faces along the route")
	assert.Equal(t, 0, snap.Directions.Active)
	require.Len(t, snap.Directions.Instructions, 2)
	assert.Equal(t, "Head east on Main St", snap.Directions.Instructions[0].Text)
	assert.NotEmpty(t, snap.Map.OverviewPolyline)

	waitFor(t, f.ride, func(s Snapshot) bool { return s.Narrative != "" })
	assert.Equal(t, "[en] Angels Camp, CA to Murphys, CA", f.snapshot(t).Narrative)

	require.Eventually(t, func() bool { return len(f.recorder.Entries()) == 1 }, time.Second, 5*time.Millisecond)
	entry := f.recorder.Entries()[0]
	assert.Equal(t, "ride-1", entry.SessionID)
	assert.Equal(t, len(seq), entry.SampleCount)
	assert.Equal(t, "en", entry.Language)
}

func TestRide_InitialSearchSkipsMissingImagery(t *testing.T) {
	f := newRideFixture(t)
	seq := f.sequence(200)
	f.resolver.setMissing(seq[0].Coordinate, seq[1].Coordinate)

	snap := f.load(t)
	assert.Equal(t, 2, snap.Playback.CurrentIndex)
	assert.Equal(t, seq[2].Coordinate, *snap.Map.Position)
}

func TestRide_NoImageryOnRoute(t *testing.T) {
	f := newRideFixture(t)
	f.resolver.setMissing(f.sequence(200).Points()...)

	require.NoError(t, f.ride.Search(context.Background(), "a", "b"))
	snap := waitFor(t, f.ride, func(s Snapshot) bool { return s.Route != nil && !s.Playback.Locating })
	assert.Equal(t, english.Text(i18n.NoStreetViewOnRoute), snap.Playback.Message)
	assert.Nil(t, snap.Map.Position)

	require.NoError(t, f.ride.Play(context.Background()))
	snap = waitFor(t, f.ride, func(s Snapshot) bool { return !s.Playback.Locating })
	assert.Equal(t, playback.Stopped, snap.Playback.Status)
}

func TestRide_PlayAdvances(t *testing.T) {
	f := newRideFixture(t)
	n := f.load(t).Playback.SampleCount

	require.NoError(t, f.ride.Play(context.Background()))
	assert.Equal(t, playback.Playing, f.snapshot(t).Playback.Status)

	snap := f.step(t, 1)
	assert.Equal(t, segmentText(2, n), snap.Playback.Message)
	snap = f.step(t, 2)
	assert.Equal(t, playback.Playing, snap.Playback.Status)
	assert.Equal(t, f.sequence(200)[2].Coordinate, *snap.Panorama.Location)
}

func TestRide_PlaySkipsMissingImagery(t *testing.T) {
	f := newRideFixture(t)
	seq := f.sequence(200)
	f.resolver.setMissing(seq[1].Coordinate, seq[2].Coordinate)
	f.load(t)

	require.NoError(t, f.ride.Play(context.Background()))
	f.clock.advance(f.config.DefaultSpeed)
	snap := f.pump(t, func(s Snapshot) bool { return s.Playback.CurrentIndex == 3 })

	assert.Equal(t, playback.Playing, snap.Playback.Status)
	assert.Equal(t, seq[3].Coordinate, *snap.Panorama.Location)
}

func TestRide_PauseAndResume(t *testing.T) {
	f := newRideFixture(t)
	f.load(t)

	require.NoError(t, f.ride.Play(context.Background()))
	f.step(t, 1)
	require.NoError(t, f.ride.Pause(context.Background()))
	assert.Equal(t, playback.Paused, f.snapshot(t).Playback.Status)

	f.clock.advance(10 * f.config.DefaultSpeed)
	assert.Equal(t, 1, f.snapshot(t).Playback.CurrentIndex)

	require.NoError(t, f.ride.Toggle(context.Background()))
	assert.Equal(t, playback.Playing, f.snapshot(t).Playback.Status)
	f.step(t, 2)

	require.NoError(t, f.ride.Toggle(context.Background()))
	assert.Equal(t, playback.Paused, f.snapshot(t).Playback.Status)
}

func TestRide_SeekWhilePlaying(t *testing.T) {
	f := newRideFixture(t)
	f.load(t)
	require.NoError(t, f.ride.Play(context.Background()))

	require.NoError(t, f.ride.Seek(context.Background(), 5))
	snap := f.snapshot(t)
	assert.Equal(t, playback.Playing, snap.Playback.Status)
	assert.Equal(t, 5, snap.Playback.CurrentIndex)

	f.step(t, 6)
}

func TestRide_SeekFromStoppedPauses(t *testing.T) {
	f := newRideFixture(t)
	f.load(t)
	seq := f.sequence(200)

	require.NoError(t, f.ride.Seek(context.Background(), 3))
	snap := waitFor(t, f.ride, func(s Snapshot) bool {
		return s.Panorama.Location != nil && *s.Panorama.Location == seq[3].Coordinate
	})
	assert.Equal(t, playback.Paused, snap.Playback.Status)
	assert.Equal(t, 3, snap.Playback.CurrentIndex)
}

func TestRide_SeekToMissingImagery(t *testing.T) {
	f := newRideFixture(t)
	seq := f.sequence(200)
	f.resolver.setMissing(seq[4].Coordinate)
	f.load(t)

	require.NoError(t, f.ride.Seek(context.Background(), 4))
	snap := waitFor(t, f.ride, func(s Snapshot) bool { return !s.Panorama.Visible })
	assert.Equal(t, 4, snap.Playback.CurrentIndex)
	assert.Equal(t, english.Text(i18n.StreetViewUnavailable), snap.Playback.Message)
}

func TestRide_SeekErrors(t *testing.T) {
	f := newRideFixture(t)

	err := f.ride.Seek(context.Background(), 0)
	assert.Equal(t, codes.FailedPrecondition, errors.Code(err), "no route loaded")

	n := f.load(t).Playback.SampleCount
	err = f.ride.Seek(context.Background(), n)
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))
	err = f.ride.Seek(context.Background(), -1)
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))
	assert.Equal(t, 0, f.snapshot(t).Playback.CurrentIndex)
}

func TestRide_SeekToPoint(t *testing.T) {
	f := newRideFixture(t)
	f.load(t)
	seq := f.sequence(200)

	near := pt(0.0005, seq[4].Coordinate.Longitude+0.0001)
	require.NoError(t, f.ride.SeekToPoint(context.Background(), near))
	assert.Equal(t, 4, f.snapshot(t).Playback.CurrentIndex)

	err := f.ride.SeekToPoint(context.Background(), pt(1, 0.01))
	assert.Equal(t, codes.InvalidArgument, errors.Code(err), "too far from the route")
	assert.Equal(t, 4, f.snapshot(t).Playback.CurrentIndex)

	err = f.ride.SeekToPoint(context.Background(), pt(100, 0))
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))
}

func TestRide_FinishAndReplay(t *testing.T) {
	f := newRideFixture(t)
	n := f.load(t).Playback.SampleCount

	require.NoError(t, f.ride.Seek(context.Background(), n-1))
	require.NoError(t, f.ride.Play(context.Background()))
	f.clock.advance(f.config.DefaultSpeed)
	snap := waitFor(t, f.ride, func(s Snapshot) bool { return s.Playback.Status == playback.Finished })
	assert.Equal(t, n-1, snap.Playback.CurrentIndex)
	assert.Equal(t, english.Text(i18n.RideFinished), snap.Playback.Message)

	require.NoError(t, f.ride.Play(context.Background()))
	snap = waitFor(t, f.ride, func(s Snapshot) bool { return s.Playback.Status == playback.Playing })
	assert.Equal(t, 0, snap.Playback.CurrentIndex)
}

func TestRide_StopIsIdempotent(t *testing.T) {
	f := newRideFixture(t)
	f.load(t)
	require.NoError(t, f.ride.Play(context.Background()))
	f.step(t, 1)

	require.NoError(t, f.ride.Stop(context.Background()))
	first := waitFor(t, f.ride, positioned)
	require.NoError(t, f.ride.Stop(context.Background()))
	second := waitFor(t, f.ride, positioned)

	for _, snap := range []Snapshot{first, second} {
		assert.Equal(t, playback.Stopped, snap.Playback.Status)
		assert.Equal(t, 0, snap.Playback.CurrentIndex)
	}
	assert.Equal(t, first.Playback, second.Playback)
}

func (f *rideFixture) holdResolver() chan struct{} {
	gate := make(chan struct{})
	f.resolver.mu.Lock()
	f.resolver.gate = gate
	f.resolver.mu.Unlock()
	return gate
}

func TestRide_StopHidesPanoramaUntilRelocated(t *testing.T) {
	f := newRideFixture(t)
	seq := f.sequence(f.config.DefaultSpacing)
	f.load(t)
	require.NoError(t, f.ride.Play(context.Background()))
	f.step(t, 1)
	f.step(t, 2)

	gate := f.holdResolver()
	require.NoError(t, f.ride.Stop(context.Background()))

	snap := f.snapshot(t)
	assert.Equal(t, playback.Stopped, snap.Playback.Status)
	assert.True(t, snap.Playback.Locating)
	assert.Nil(t, snap.Map.Position)
	assert.False(t, snap.Panorama.Visible)
	assert.Empty(t, snap.Panorama.PanoramaID)
	assert.Empty(t, snap.Playback.Message)

	close(gate)
	snap = waitFor(t, f.ride, positioned)
	assert.True(t, snap.Panorama.Visible)
	assert.Equal(t, seq[0].Coordinate, *snap.Map.Position)
	assert.Equal(t, seq[0].Coordinate, *snap.Panorama.Location)
}

func TestRide_ReplayHidesFinishedPanorama(t *testing.T) {
	f := newRideFixture(t)
	n := f.load(t).Playback.SampleCount

	require.NoError(t, f.ride.Seek(context.Background(), n-1))
	waitFor(t, f.ride, func(s Snapshot) bool { return s.Panorama.Visible && s.Playback.CurrentIndex == n-1 })
	require.NoError(t, f.ride.Play(context.Background()))
	f.clock.advance(f.config.DefaultSpeed)
	waitFor(t, f.ride, func(s Snapshot) bool { return s.Playback.Status == playback.Finished })

	gate := f.holdResolver()
	require.NoError(t, f.ride.Play(context.Background()))

	snap := f.snapshot(t)
	assert.Nil(t, snap.Map.Position)
	assert.False(t, snap.Panorama.Visible)

	close(gate)
	snap = waitFor(t, f.ride, func(s Snapshot) bool { return s.Playback.Status == playback.Playing })
	assert.Equal(t, 0, snap.Playback.CurrentIndex)
	assert.True(t, snap.Panorama.Visible)
}

func TestRide_PlayDuringInitialSearch(t *testing.T) {
	f := newRideFixture(t)
	gate := make(chan struct{})
	f.resolver.gate = gate

	require.NoError(t, f.ride.Search(context.Background(), "a", "b"))
	waitFor(t, f.ride, func(s Snapshot) bool { return s.Route != nil && s.Playback.Locating })

	require.NoError(t, f.ride.Play(context.Background()))
	assert.Equal(t, playback.Stopped, f.snapshot(t).Playback.Status, "waits for a displayable position")

	close(gate)
	snap := waitFor(t, f.ride, func(s Snapshot) bool { return s.Playback.Status == playback.Playing })
	assert.Equal(t, 0, snap.Playback.CurrentIndex)
}

func TestRide_SpacingChangeKeepsPosition(t *testing.T) {
	f := newRideFixture(t)
	f.load(t)
	require.NoError(t, f.ride.Play(context.Background()))
	f.step(t, 1)
	f.step(t, 2)
	before := f.step(t, 3)
	position := *before.Map.Position

	applied, err := f.ride.SetSampleSpacing(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, applied)

	dense := f.sequence(100)
	snap := f.snapshot(t)
	assert.Equal(t, len(dense), snap.Playback.SampleCount)
	assert.Equal(t, sampler.NearestIndex(dense, position), snap.Playback.CurrentIndex)
	assert.Equal(t, playback.Playing, snap.Playback.Status)
	assert.Equal(t, 100.0, snap.Playback.SpacingMeters)

	// The first tick after resampling re-arms the clock
	f.clock.tick()
	f.step(t, snap.Playback.CurrentIndex+1)
}

func TestRide_SpacingChangeWhilePaused(t *testing.T) {
	f := newRideFixture(t)
	f.load(t)
	require.NoError(t, f.ride.Seek(context.Background(), 2))
	position := *f.snapshot(t).Map.Position

	applied, err := f.ride.SetSampleSpacing(context.Background(), 5000)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, applied, "clamped to the maximum")

	sparse := f.sequence(1000)
	snap := f.snapshot(t)
	assert.Equal(t, playback.Paused, snap.Playback.Status)
	assert.Equal(t, sampler.NearestIndex(sparse, position), snap.Playback.CurrentIndex)
}

func TestRide_SpacingChangeWhenFinished(t *testing.T) {
	f := newRideFixture(t)
	n := f.load(t).Playback.SampleCount
	require.NoError(t, f.ride.Seek(context.Background(), n-1))
	require.NoError(t, f.ride.Play(context.Background()))
	f.clock.advance(f.config.DefaultSpeed)
	waitFor(t, f.ride, func(s Snapshot) bool { return s.Playback.Status == playback.Finished })

	_, err := f.ride.SetSampleSpacing(context.Background(), 100)
	require.NoError(t, err)

	snap := f.snapshot(t)
	assert.Equal(t, playback.Finished, snap.Playback.Status, "still at the end of the route")
	assert.Equal(t, snap.Playback.SampleCount-1, snap.Playback.CurrentIndex)
}

func TestRide_SpacingBeforeSearch(t *testing.T) {
	f := newRideFixture(t)

	_, err := f.ride.SetSampleSpacing(context.Background(), 500)
	require.NoError(t, err)
	snap := f.load(t)
	assert.Equal(t, len(f.sequence(500)), snap.Playback.SampleCount)
}

func TestRide_SetSpeed(t *testing.T) {
	f := newRideFixture(t)

	applied, err := f.ride.SetSpeed(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, applied)

	applied, err = f.ride.SetSpeed(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, applied)
	assert.Equal(t, int64(5000), f.snapshot(t).Playback.SpeedMillis)
}

func TestRide_SetLanguage(t *testing.T) {
	f := newRideFixture(t)
	thai := i18n.New(language.Thai)

	require.NoError(t, f.ride.SetLanguage(context.Background(), "th-TH"))
	snap := f.snapshot(t)
	assert.Equal(t, "th", snap.Language)
	assert.Equal(t, thai.Text(i18n.InitialPrompt), snap.Playback.Message)

	f.load(t)
	snap = waitFor(t, f.ride, func(s Snapshot) bool { return s.Narrative != "" })
	assert.Equal(t, "[th] Angels Camp, CA to Murphys, CA", snap.Narrative)

	require.NoError(t, f.ride.SetLanguage(context.Background(), "en"))
	snap = waitFor(t, f.ride, func(s Snapshot) bool { return s.Narrative != "" })
	assert.Equal(t, "[en] Angels Camp, CA to Murphys, CA", snap.Narrative)
	assert.Equal(t, english.Text(i18n.RouteLoaded), snap.Playback.Message)
}

func TestRide_NewerSearchWins(t *testing.T) {
	f := newRideFixture(t)
	slow := make(chan struct{})
	other := testDirections()
	other.Summary = "Slow route"
	f.router.routes = map[string]*google.Directions{"slow": other}
	f.router.gates = map[string]chan struct{}{"slow": slow}

	require.NoError(t, f.ride.Search(context.Background(), "slow", "b"))
	require.NoError(t, f.ride.Search(context.Background(), "fast", "b"))
	snap := waitFor(t, f.ride, positioned)
	assert.Equal(t, "CA-4 E", snap.Route.Summary)

	close(slow)
	require.Eventually(t, func() bool { return f.router.Calls() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "CA-4 E", f.snapshot(t).Route.Summary)
}

func TestRide_Subscribe(t *testing.T) {
	f := newRideFixture(t)

	snapshots, cancel, err := f.ride.Subscribe(context.Background())
	require.NoError(t, err)
	defer cancel()

	first := <-snapshots
	assert.Nil(t, first.Route)

	require.NoError(t, f.ride.Search(context.Background(), "a", "b"))
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap := <-snapshots:
			if positioned(snap) {
				assert.Greater(t, snap.Version, first.Version)
				return
			}
		case <-timeout:
			t.Fatal("no snapshot with a loaded route")
		}
	}
}

func TestRide_SubscribeClosedOnClose(t *testing.T) {
	f := newRideFixture(t)
	snapshots, _, err := f.ride.Subscribe(context.Background())
	require.NoError(t, err)
	<-snapshots

	f.ride.Close()
	_, ok := <-snapshots
	assert.False(t, ok)
}

func TestRide_Export(t *testing.T) {
	f := newRideFixture(t)

	_, err := f.ride.Export(context.Background())
	assert.Equal(t, codes.FailedPrecondition, errors.Code(err))

	f.load(t)
	out, err := f.ride.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Angels Camp, CA to Murphys, CA", out.Name)
	assert.Len(t, out.Samples, len(f.sequence(200)))
	assert.Len(t, out.Instructions, 2)
	assert.Equal(t, 0, out.CurrentIndex)
}

func TestRide_ClosedSession(t *testing.T) {
	f := newRideFixture(t)
	f.ride.Close()

	err := f.ride.Play(context.Background())
	assert.Equal(t, codes.Unavailable, errors.Code(err))
	_, err = f.ride.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestRide_Dispatch(t *testing.T) {
	f := newRideFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ride.Dispatch(ctx, Command{Type: "search", Start: "a", End: "b"}))
	waitFor(t, f.ride, positioned)

	index := 2
	require.NoError(t, f.ride.Dispatch(ctx, Command{Type: "seek", Index: &index}))
	assert.Equal(t, 2, f.snapshot(t).Playback.CurrentIndex)

	require.NoError(t, f.ride.Dispatch(ctx, Command{Type: "speed", Millis: 500}))
	assert.Equal(t, int64(500), f.snapshot(t).Playback.SpeedMillis)

	err := f.ride.Dispatch(ctx, Command{Type: "map_click"})
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))
	err = f.ride.Dispatch(ctx, Command{Type: "rewind"})
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))
}
