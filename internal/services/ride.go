package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	perrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"golang.org/x/text/language"

	"github.com/dpup/ride.ersn.net/server/internal/clients/google"
	"github.com/dpup/ride.ersn.net/server/internal/config"
	"github.com/dpup/ride.ersn.net/server/internal/lib/export"
	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
	"github.com/dpup/ride.ersn.net/server/internal/lib/i18n"
	"github.com/dpup/ride.ersn.net/server/internal/lib/narrative"
	"github.com/dpup/ride.ersn.net/server/internal/lib/panorama"
	"github.com/dpup/ride.ersn.net/server/internal/lib/playback"
	"github.com/dpup/ride.ersn.net/server/internal/lib/sampler"
	"github.com/dpup/ride.ersn.net/server/internal/store"
)

// Router finds a driving route between two free-text locations
type Router interface {
	Directions(ctx context.Context, origin, destination, language string) (*google.Directions, error)
}

// Recorder keeps a log of successful route searches
type Recorder interface {
	Record(ctx context.Context, e store.Entry) (*store.Entry, error)
}

// RideDeps are the collaborators shared by every ride session
type RideDeps struct {
	Router   Router
	Resolver playback.Resolver
	Narrator narrative.Narrator // optional
	History  Recorder           // optional
	Prefetch *Prefetcher        // optional
	Config   config.PlaybackConfig

	// Now and Ticker drive playback timing; tests replace them
	Now    func() time.Time
	Ticker func(time.Duration) (<-chan time.Time, func())
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type command struct {
	fn      func()
	mutates bool
}

// message is a localizable status line, rendered at snapshot time so a
// language switch applies to text that is already showing
type message struct {
	key  i18n.Key
	args []interface{}
}

func (m message) render(l *i18n.Localizer) string {
	if m.key == "" {
		return ""
	}
	return l.Text(m.key, m.args...)
}

// Ride coordinates routing, sampling, panorama lookups and playback for one
// user session. All state is owned by a single goroutine; public methods
// send commands to it and async results are posted back to it tagged with
// the token that was current when they started, so superseded work is
// dropped instead of overwriting newer state.
type Ride struct {
	id     string
	deps   RideDeps
	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan command
	done   chan struct{}

	lastActive atomic.Int64

	// Everything below is owned by the run loop
	version     uint64
	searchToken uint64 // bumped by Search; guards routing and narrative results
	gen         uint64 // bumped when the sequence or position is replaced; guards the initial search
	showSeq     uint64
	showToken   uint64 // pending display lookup after a seek; 0 when none

	engine      *playback.Engine
	loc         *i18n.Localizer
	spacing     float64
	origin      string
	destination string
	directions  *google.Directions
	narrative   string
	panorama    *panorama.Outcome

	status    message
	failure   message
	searching bool
	locating  bool
	autoplay  bool

	subs    map[int]chan Snapshot
	nextSub int
}

// NewRide starts a ride session. The session lives until Close is called or
// ctx is cancelled.
func NewRide(ctx context.Context, id string, deps RideDeps, lang language.Tag) *Ride {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Ticker == nil {
		deps.Ticker = realTicker
	}

	ctx, cancel := context.WithCancel(logging.EnsureLogger(ctx))
	r := &Ride{
		id:      id,
		deps:    deps,
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan command),
		done:    make(chan struct{}),
		engine:  playback.NewEngine(deps.Config.Limits()),
		loc:     i18n.New(lang),
		spacing: deps.Config.ClampSpacing(deps.Config.DefaultSpacing),
		status:  message{key: i18n.InitialPrompt},
		subs:    map[int]chan Snapshot{},
	}
	r.touch()
	go r.run()
	return r
}

// ID returns the session id
func (r *Ride) ID() string {
	return r.id
}

// LastActive returns when a client last interacted with the session
func (r *Ride) LastActive() time.Time {
	return time.Unix(0, r.lastActive.Load())
}

// Touch marks the session as in use
func (r *Ride) Touch() {
	r.touch()
}

func (r *Ride) touch() {
	r.lastActive.Store(r.deps.Now().UnixNano())
}

// Close stops the session and releases its subscribers
func (r *Ride) Close() {
	r.cancel()
	<-r.done
}

// Done is closed once the session has shut down
func (r *Ride) Done() <-chan struct{} {
	return r.done
}

func (r *Ride) run() {
	defer close(r.done)
	defer r.closeSubscribers()
	defer func() {
		if rec := recover(); rec != nil {
			err, _ := perrors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(r.ctx, "Ride: recovered from panic",
				"ride", r.id, "error", rec, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()

	ticks, stop := r.deps.Ticker(r.deps.Config.TickInterval)
	defer stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case cmd := <-r.cmds:
			cmd.fn()
			if cmd.mutates {
				r.publish()
			}
		case now := <-ticks:
			if r.tick(now) {
				r.publish()
			}
		}
	}
}

// do runs fn on the loop and waits for its result
func (r *Ride) do(ctx context.Context, mutates bool, fn func() error) error {
	errc := make(chan error, 1)
	cmd := command{fn: func() { errc <- fn() }, mutates: mutates}

	select {
	case r.cmds <- cmd:
	case <-r.done:
		return rideClosed()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-r.done:
		return rideClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Ride) mutate(ctx context.Context, fn func() error) error {
	r.touch()
	return r.do(ctx, true, fn)
}

func (r *Ride) read(ctx context.Context, fn func()) error {
	return r.do(ctx, false, func() error {
		fn()
		return nil
	})
}

// post delivers an async result to the loop. Results for a closed session
// are dropped.
func (r *Ride) post(fn func()) {
	select {
	case r.cmds <- command{fn: fn, mutates: true}:
	case <-r.done:
	}
}

// Search validates the locations and starts a directions request. The result
// arrives asynchronously; observe it through Snapshot or Subscribe.
func (r *Ride) Search(ctx context.Context, start, end string) error {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	return r.mutate(ctx, func() error {
		if start == "" || end == "" {
			return invalidArgument(r.loc.Text(i18n.EnterStartEnd))
		}

		r.searchToken++
		r.gen++
		r.showToken = 0
		r.engine.Load(nil)
		r.origin, r.destination = start, end
		r.directions = nil
		r.narrative = ""
		r.panorama = nil
		r.status = message{}
		r.failure = message{}
		r.searching = true
		r.locating = false
		r.autoplay = false

		token := r.searchToken
		lang := r.loc.Tag().String()
		go func() {
			dirs, err := r.deps.Router.Directions(r.ctx, start, end, lang)
			r.post(func() { r.routed(token, dirs, err) })
		}()
		return nil
	})
}

func (r *Ride) routed(token uint64, dirs *google.Directions, err error) {
	if token != r.searchToken {
		return
	}
	r.searching = false

	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		logging.Warnw(r.ctx, "Ride: route search failed",
			"ride", r.id, "origin", r.origin, "destination", r.destination, "error", err)
		r.failure = routeFailure(err)
		return
	}

	r.directions = dirs
	r.regenerate(nil, playback.Stopped)
	if len(r.engine.Sequence()) == 0 {
		r.failure = message{key: i18n.NoOverviewPath}
		return
	}

	logging.Infow(r.ctx, "Ride: route loaded",
		"ride", r.id, "instructions", len(dirs.Instructions), "samples", len(r.engine.Sequence()))
	r.fetchNarrative(token)
	r.record()
}

// routeFailure maps a routing error to the message shown to the user
func routeFailure(err error) message {
	var routeErr *google.RouteError
	if !errors.As(err, &routeErr) {
		return message{key: i18n.RouteErrorDefault}
	}
	switch routeErr.Category {
	case google.CategoryNotFound:
		return message{key: i18n.RouteErrorNotFound}
	case google.CategoryZeroResults:
		return message{key: i18n.RouteErrorZeroResults}
	case google.CategoryRequestDenied:
		return message{key: i18n.RouteErrorDenied}
	case google.CategoryOverQuota:
		return message{key: i18n.RouteErrorOverQuota}
	default:
		return message{key: i18n.RouteErrorDefault}
	}
}

// regenerate resamples the route at the current spacing. With no resume
// point the initial-position search runs from the first sample; otherwise
// playback continues from the sample nearest resume.
func (r *Ride) regenerate(resume *geo.Point, prev playback.Status) {
	r.gen++
	r.showToken = 0

	var instructions []sampler.RouteInstruction
	if r.directions != nil {
		instructions = r.directions.Instructions
	}
	seq := sampler.Sample(instructions, r.spacing)
	r.engine.Load(seq)

	if len(seq) == 0 {
		r.locating = false
		r.autoplay = false
		return
	}
	if resume == nil {
		r.locate(0)
		return
	}

	r.locating = false
	index := sampler.NearestIndex(seq, *resume)
	if err := r.engine.Place(index); err != nil {
		logging.Errorw(r.ctx, "Ride: failed to place resumed position", "ride", r.id, "error", err)
		return
	}
	switch {
	case prev == playback.Playing:
		r.engine.SetStatus(playback.Playing)
	case prev == playback.Finished && index == len(seq)-1:
		r.engine.SetStatus(playback.Finished)
	default:
		r.engine.SetStatus(playback.Paused)
	}
	r.status = r.segment()
	r.show(index)
}

// locate starts the initial-position search from start
func (r *Ride) locate(start int) {
	gen := r.gen
	seq := r.engine.Sequence()
	radius := r.deps.Config.PanoramaRadius

	r.locating = true
	r.status = message{key: i18n.FindingStreetView}
	go func() {
		placement, err := playback.FindInitial(r.ctx, r.deps.Resolver, seq, start, radius)
		r.post(func() { r.located(gen, placement, err) })
	}()
}

func (r *Ride) located(gen uint64, placement playback.Placement, err error) {
	if gen != r.gen {
		return
	}
	r.locating = false

	if err != nil {
		r.autoplay = false
		switch {
		case errors.Is(err, playback.ErrNoImagery):
			r.status = message{key: i18n.NoStreetViewOnRoute}
		case r.ctx.Err() != nil:
		default:
			logging.Errorw(r.ctx, "Ride: initial panorama search failed", "ride", r.id, "error", err)
			r.status = message{key: i18n.StreetViewUnavailable}
		}
		return
	}

	if err := r.engine.Place(placement.Index); err != nil {
		logging.Errorw(r.ctx, "Ride: failed to place initial position", "ride", r.id, "error", err)
		return
	}
	outcome := placement.Outcome
	r.panorama = &outcome
	r.status = message{key: i18n.RouteLoaded}
	r.prefetch()

	if r.autoplay {
		r.autoplay = false
		r.start()
	}
}

func (r *Ride) start() {
	if r.engine.Start(r.deps.Now()) {
		r.showToken = 0
		r.status = r.segment()
	}
}

func (r *Ride) segment() message {
	return message{key: i18n.Segment, args: []interface{}{r.engine.State().CurrentIndex + 1, len(r.engine.Sequence())}}
}

// show fetches the panorama for a position set directly by a seek
func (r *Ride) show(index int) {
	r.showSeq++
	token := r.showSeq
	r.showToken = token

	point := r.engine.Sequence()[index].Coordinate
	radius := r.deps.Config.PanoramaRadius
	go func() {
		outcome, err := r.deps.Resolver.Resolve(r.ctx, point, radius)
		r.post(func() { r.shown(token, index, outcome, err) })
	}()
}

func (r *Ride) shown(token uint64, index int, outcome panorama.Outcome, err error) {
	if token != r.showToken || r.engine.State().CurrentIndex != index {
		return
	}
	r.showToken = 0

	if err != nil {
		if r.ctx.Err() == nil {
			logging.Warnw(r.ctx, "Ride: panorama lookup failed", "ride", r.id, "index", index, "error", err)
		}
		outcome = panorama.Outcome{Found: false, Location: outcome.Location}
	}
	r.panorama = &outcome
	if !outcome.Found {
		r.status = message{key: i18n.StreetViewUnavailable}
		return
	}
	r.status = r.segment()
	r.prefetch()
}

// prefetch warms imagery just past the displayed position
func (r *Ride) prefetch() {
	r.deps.Prefetch.Warm(r.ctx, r.engine.Sequence(), r.engine.State().CurrentIndex)
}

// tick advances playback; it reports whether visible state changed
func (r *Ride) tick(now time.Time) bool {
	result := r.engine.Tick(now)
	if result.Finished {
		r.status = message{key: i18n.RideFinished}
		return true
	}
	if result.Probe == nil {
		return false
	}

	probe := *result.Probe
	radius := r.deps.Config.PanoramaRadius
	go func() {
		outcome, err := r.deps.Resolver.Resolve(r.ctx, probe.Point, radius)
		r.post(func() { r.probed(probe, outcome, err) })
	}()
	return false
}

func (r *Ride) probed(probe playback.Probe, outcome panorama.Outcome, err error) {
	if err != nil && r.ctx.Err() == nil {
		logging.Warnw(r.ctx, "Ride: panorama lookup failed, skipping sample",
			"ride", r.id, "index", probe.Index, "error", err)
	}
	found := err == nil && outcome.Found

	switch r.engine.Complete(probe.Token, found) {
	case playback.Advanced:
		r.panorama = &outcome
		r.status = r.segment()
		r.prefetch()
	case playback.Skipped:
		r.status = message{key: i18n.TryingNext}
	}
}

func (r *Ride) fetchNarrative(token uint64) {
	if r.deps.Narrator == nil {
		return
	}
	origin, destination, lang := r.origin, r.destination, r.loc.Tag()
	go func() {
		text, err := r.deps.Narrator.Narrate(r.ctx, origin, destination, lang)
		r.post(func() {
			if token != r.searchToken || lang != r.loc.Tag() {
				return
			}
			switch {
			case errors.Is(err, narrative.ErrNotConfigured):
				logging.Debugw(r.ctx, "Ride: narrative disabled", "ride", r.id)
			case err != nil:
				if r.ctx.Err() == nil {
					logging.Warnw(r.ctx, "Ride: narrative generation failed", "ride", r.id, "error", err)
				}
			default:
				r.narrative = text
			}
		})
	}()
}

func (r *Ride) record() {
	if r.deps.History == nil || r.directions == nil {
		return
	}
	entry := store.Entry{
		SessionID:     r.id,
		Origin:        r.origin,
		Destination:   r.destination,
		StartAddress:  r.directions.StartAddress,
		EndAddress:    r.directions.EndAddress,
		Summary:       r.directions.Summary,
		TotalDistance: r.directions.TotalDistance,
		TotalDuration: r.directions.TotalDuration,
		Language:      r.loc.Tag().String(),
		SampleCount:   len(r.engine.Sequence()),
	}
	go func() {
		if _, err := r.deps.History.Record(r.ctx, entry); err != nil && r.ctx.Err() == nil {
			logging.Warnw(r.ctx, "Ride: failed to record search", "ride", r.id, "error", err)
		}
	}()
}

// Play starts or resumes playback. From Finished the ride restarts at the
// first sample with imagery. While the initial search is still running the
// request is remembered and playback starts once a position is found.
func (r *Ride) Play(ctx context.Context) error {
	return r.mutate(ctx, func() error {
		r.play()
		return nil
	})
}

func (r *Ride) play() {
	if len(r.engine.Sequence()) == 0 {
		return
	}

	switch state := r.engine.State(); {
	case state.Status == playback.Playing:
	case state.Status == playback.Finished:
		r.engine.Stop()
		r.panorama = nil
		r.gen++
		r.autoplay = true
		r.locate(0)
	case !r.engine.Ready():
		r.autoplay = true
		if !r.locating {
			r.gen++
			r.locate(0)
		}
	default:
		r.start()
	}
}

// Pause halts playback at the displayed sample
func (r *Ride) Pause(ctx context.Context) error {
	return r.mutate(ctx, func() error {
		r.pause()
		return nil
	})
}

func (r *Ride) pause() {
	r.autoplay = false
	if r.engine.Pause() {
		r.status = r.segment()
	}
}

// Toggle pauses a playing ride and plays anything else
func (r *Ride) Toggle(ctx context.Context) error {
	return r.mutate(ctx, func() error {
		if r.engine.State().Status == playback.Playing {
			r.pause()
		} else {
			r.play()
		}
		return nil
	})
}

// Stop returns to the start of the route. The panorama stays hidden and the
// status line empty until the first sample with imagery is found again.
func (r *Ride) Stop(ctx context.Context) error {
	return r.mutate(ctx, func() error {
		r.autoplay = false
		r.showToken = 0
		r.engine.Stop()
		r.panorama = nil
		if len(r.engine.Sequence()) > 0 {
			r.gen++
			r.locate(0)
		}
		r.status = message{}
		return nil
	})
}

// Seek jumps to sample index. Playing rides keep playing from there; a
// stopped or finished ride becomes paused.
func (r *Ride) Seek(ctx context.Context, index int) error {
	return r.mutate(ctx, func() error {
		return r.seek(index)
	})
}

func (r *Ride) seek(index int) error {
	n := len(r.engine.Sequence())
	if n == 0 {
		return failedPrecondition("no route is loaded")
	}
	if index < 0 || index >= n {
		return invalidArgument(fmt.Sprintf("sample index %d out of range [0, %d)", index, n))
	}

	if r.locating {
		r.gen++
		r.locating = false
	}
	r.autoplay = false
	if err := r.engine.Seek(index); err != nil {
		return invalidArgument(err.Error())
	}
	switch r.engine.State().Status {
	case playback.Stopped, playback.Finished:
		r.engine.SetStatus(playback.Paused)
	}
	r.status = r.segment()
	r.show(index)
	return nil
}

// SeekToPoint jumps to the sample nearest p, typically a map click. Points
// farther than the configured seek radius from every sample are rejected.
func (r *Ride) SeekToPoint(ctx context.Context, p geo.Point) error {
	if !geo.IsValid(p) {
		return invalidArgument(fmt.Sprintf("invalid coordinate %f,%f", p.Latitude, p.Longitude))
	}
	return r.mutate(ctx, func() error {
		seq := r.engine.Sequence()
		index := sampler.NearestIndex(seq, p)
		if index < 0 {
			return failedPrecondition("no route is loaded")
		}
		if d := geo.Distance(seq[index].Coordinate, p); d > r.deps.Config.SeekRadius {
			return invalidArgument(fmt.Sprintf("point is %.0f m from the route", d))
		}
		return r.seek(index)
	})
}

// SetSpeed sets the time per step, returning the clamped value applied
func (r *Ride) SetSpeed(ctx context.Context, d time.Duration) (time.Duration, error) {
	var applied time.Duration
	err := r.mutate(ctx, func() error {
		applied = r.engine.SetSpeed(d)
		return nil
	})
	return applied, err
}

// SetSampleSpacing resamples the route at a new spacing, returning the
// clamped value applied. Playback resumes from the new sample nearest to the
// position that was showing.
func (r *Ride) SetSampleSpacing(ctx context.Context, meters float64) (float64, error) {
	var applied float64
	err := r.mutate(ctx, func() error {
		applied = r.setSpacing(meters)
		return nil
	})
	return applied, err
}

func (r *Ride) setSpacing(meters float64) float64 {
	meters = r.deps.Config.ClampSpacing(meters)
	if meters == r.spacing {
		return meters
	}
	r.spacing = meters
	if r.directions == nil {
		return meters
	}

	state := r.engine.State()
	var resume *geo.Point
	if current, ok := r.engine.Current(); ok && r.engine.Ready() {
		p := current.Coordinate
		resume = &p
	}
	r.regenerate(resume, state.Status)
	return meters
}

// SetLanguage switches the language of status text and narrative
func (r *Ride) SetLanguage(ctx context.Context, lang string) error {
	tag := i18n.Match(lang)
	return r.mutate(ctx, func() error {
		if tag == r.loc.Tag() {
			return nil
		}
		r.loc = i18n.New(tag)
		if r.directions != nil {
			r.narrative = ""
			r.fetchNarrative(r.searchToken)
		}
		return nil
	})
}

// Snapshot returns the current read-only view of the ride
func (r *Ride) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := r.read(ctx, func() { snap = r.snapshot() })
	return snap, err
}

// Samples returns the current sample sequence
func (r *Ride) Samples(ctx context.Context) (sampler.Sequence, error) {
	var seq sampler.Sequence
	err := r.read(ctx, func() {
		seq = append(sampler.Sequence(nil), r.engine.Sequence()...)
	})
	return seq, err
}

// Export returns the loaded route for export
func (r *Ride) Export(ctx context.Context) (export.Ride, error) {
	var out export.Ride
	err := r.read(ctx, func() {
		out.Samples = append(sampler.Sequence(nil), r.engine.Sequence()...)
		out.CurrentIndex = -1
		if r.engine.Ready() {
			out.CurrentIndex = r.engine.State().CurrentIndex
		}
		if r.directions == nil {
			return
		}
		out.Name = fmt.Sprintf("%s to %s", r.origin, r.destination)
		out.Description = r.directions.Summary
		out.Instructions = r.directions.Instructions
	})
	if err != nil {
		return export.Ride{}, err
	}
	if len(out.Samples) == 0 {
		return export.Ride{}, failedPrecondition("no route is loaded")
	}
	return out, nil
}

// Subscribe returns a channel that receives the latest snapshot after every
// change, starting with the current one. Slow readers only see the most
// recent snapshot. The channel is closed when the session ends or the
// returned cancel func is called.
func (r *Ride) Subscribe(ctx context.Context) (<-chan Snapshot, func(), error) {
	ch := make(chan Snapshot, 1)
	var id int
	err := r.read(ctx, func() {
		id = r.nextSub
		r.nextSub++
		r.subs[id] = ch
		ch <- r.snapshot()
	})
	if err != nil {
		return nil, nil, err
	}

	cancel := func() {
		select {
		case r.cmds <- command{fn: func() {
			if sub, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(sub)
			}
		}}:
		case <-r.done:
		}
	}
	return ch, cancel, nil
}

func (r *Ride) publish() {
	r.version++
	if len(r.subs) == 0 {
		return
	}
	snap := r.snapshot()
	for _, ch := range r.subs {
		select {
		case ch <- snap:
		default:
			// Replace the unread snapshot with the newer one
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (r *Ride) closeSubscribers() {
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}
