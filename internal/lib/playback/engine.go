// Package playback drives an index through a sample sequence over time.
//
// The Engine is a plain state machine: it never blocks, never starts
// goroutines and never calls the network. The owner feeds it clock ticks and
// probe results and performs the lookups it requests.
package playback

import (
	"fmt"
	"time"

	"github.com/dpup/ride.ersn.net/server/internal/lib/sampler"
)

// Engine holds playback state for one sample sequence
type Engine struct {
	limits Limits
	speed  time.Duration

	seq   sampler.Sequence
	state State

	// cursor is the last index attempted while playing. It runs ahead of
	// state.CurrentIndex while samples without imagery are being skipped.
	cursor int

	// ready is set once a displayable position exists for the sequence
	ready bool

	pending   *Probe
	lastToken uint64
}

// NewEngine creates a stopped engine with an empty sequence
func NewEngine(limits Limits) *Engine {
	e := &Engine{limits: limits}
	e.speed = limits.Clamp(limits.DefaultSpeed)
	e.Load(nil)
	return e
}

// Load replaces the sequence and resets to Stopped. Any in-flight probe is
// discarded. A displayable position must be established with Place before
// playback can start.
func (e *Engine) Load(seq sampler.Sequence) {
	e.seq = seq
	e.pending = nil
	e.ready = false
	e.state = State{Status: Stopped, CurrentIndex: e.firstIndex()}
	e.cursor = e.state.CurrentIndex
}

// Sequence returns the current sample sequence
func (e *Engine) Sequence() sampler.Sequence {
	return e.seq
}

// State returns a copy of the playback state
func (e *Engine) State() State {
	return e.state
}

// Ready reports whether a displayable position has been established
func (e *Engine) Ready() bool {
	return e.ready
}

// InFlight reports whether a tick-issued probe is outstanding
func (e *Engine) InFlight() bool {
	return e.pending != nil
}

// Speed returns the configured time per step
func (e *Engine) Speed() time.Duration {
	return e.speed
}

// SetSpeed clamps and applies a new time per step, returning the applied value
func (e *Engine) SetSpeed(d time.Duration) time.Duration {
	e.speed = e.limits.Clamp(d)
	return e.speed
}

// Current returns the displayed sample
func (e *Engine) Current() (sampler.PathSample, bool) {
	if e.state.CurrentIndex < 0 || e.state.CurrentIndex >= len(e.seq) {
		return sampler.PathSample{}, false
	}
	return e.seq[e.state.CurrentIndex], true
}

// Progress returns playback progress as a percentage
func (e *Engine) Progress() float64 {
	if len(e.seq) == 0 || e.state.CurrentIndex < 0 {
		return 0
	}
	return float64(e.state.CurrentIndex+1) / float64(len(e.seq)) * 100
}

// Place sets the displayed index after a successful panorama resolution
// (initial search or reconciliation). Status is left unchanged.
func (e *Engine) Place(index int) error {
	if err := e.checkIndex(index); err != nil {
		return err
	}
	e.cancel()
	e.state.CurrentIndex = index
	e.cursor = index
	e.ready = true
	return nil
}

// Start transitions Stopped or Paused to Playing. It is a no-op when the
// sequence is empty or no displayable position has been found.
func (e *Engine) Start(now time.Time) bool {
	if len(e.seq) == 0 || !e.ready {
		return false
	}
	switch e.state.Status {
	case Stopped, Paused:
		e.state.Status = Playing
		e.state.LastTick = now
		return true
	default:
		return false
	}
}

// Pause transitions Playing to Paused and discards any in-flight probe
func (e *Engine) Pause() bool {
	if e.state.Status != Playing {
		return false
	}
	e.cancel()
	e.state.Status = Paused
	return true
}

// Stop resets to Stopped at the first sample. Calling it repeatedly has no
// further effect.
func (e *Engine) Stop() {
	e.cancel()
	e.ready = false
	e.state = State{Status: Stopped, CurrentIndex: e.firstIndex()}
	e.cursor = e.state.CurrentIndex
}

// Seek moves the displayed index without changing status
func (e *Engine) Seek(index int) error {
	if err := e.checkIndex(index); err != nil {
		return err
	}
	e.cancel()
	e.state.CurrentIndex = index
	e.cursor = index
	e.ready = true
	return nil
}

// SetStatus forces a status during reconciliation. An empty sequence always
// forces Stopped.
func (e *Engine) SetStatus(s Status) {
	if len(e.seq) == 0 {
		s = Stopped
	}
	if s != Playing {
		e.cancel()
	}
	if s == Playing && e.state.Status != Playing {
		e.state.LastTick = time.Time{}
	}
	e.state.Status = s
}

// Tick evaluates elapsed time and advances at most one step. While a probe is
// in flight, ticks are ignored.
func (e *Engine) Tick(now time.Time) TickResult {
	if e.state.Status != Playing || !e.ready || e.pending != nil || len(e.seq) == 0 {
		return TickResult{}
	}
	if e.state.LastTick.IsZero() {
		e.state.LastTick = now
		return TickResult{}
	}
	if now.Sub(e.state.LastTick) < e.speed {
		return TickResult{}
	}
	e.state.LastTick = now

	next := e.cursor + 1
	if next >= len(e.seq) {
		e.state.Status = Finished
		return TickResult{Finished: true}
	}

	e.lastToken++
	e.pending = &Probe{Token: e.lastToken, Index: next, Point: e.seq[next].Coordinate}
	probe := *e.pending
	return TickResult{Probe: &probe}
}

// Complete applies the result of a tick-issued probe. Results for cancelled
// or superseded probes are discarded.
func (e *Engine) Complete(token uint64, found bool) Completion {
	if e.pending == nil || e.pending.Token != token {
		return Stale
	}
	probe := *e.pending
	e.pending = nil

	e.cursor = probe.Index
	if found {
		e.state.CurrentIndex = probe.Index
		return Advanced
	}

	// Skip unresolvable samples as fast as the resolver answers
	e.state.LastTick = e.state.LastTick.Add(-e.speed)
	return Skipped
}

func (e *Engine) cancel() {
	e.pending = nil
}

func (e *Engine) firstIndex() int {
	if len(e.seq) == 0 {
		return -1
	}
	return 0
}

func (e *Engine) checkIndex(index int) error {
	if index < 0 || index >= len(e.seq) {
		return fmt.Errorf("index %d out of range [0, %d)", index, len(e.seq))
	}
	return nil
}
