package playback

import (
	"time"

	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
)

// Status is the playback state machine's state
type Status string

const (
	Stopped  Status = "STOPPED"
	Playing  Status = "PLAYING"
	Paused   Status = "PAUSED"
	Finished Status = "FINISHED"
)

// State is the externally visible playback state.
// CurrentIndex is -1 when there is no displayable position.
type State struct {
	Status       Status    `json:"status"`
	CurrentIndex int       `json:"current_index"`
	LastTick     time.Time `json:"last_tick"`
}

// Limits bounds the playback speed in time per step. Lower is faster.
type Limits struct {
	MinSpeed     time.Duration
	MaxSpeed     time.Duration
	DefaultSpeed time.Duration
}

// Clamp bounds d to [MinSpeed, MaxSpeed]
func (l Limits) Clamp(d time.Duration) time.Duration {
	if d < l.MinSpeed {
		return l.MinSpeed
	}
	if d > l.MaxSpeed {
		return l.MaxSpeed
	}
	return d
}

// Probe is a panorama lookup request issued by a tick. Token identifies the
// request; completions carrying any other token are discarded.
type Probe struct {
	Token uint64    `json:"token"`
	Index int       `json:"index"`
	Point geo.Point `json:"point"`
}

// TickResult describes what a tick evaluation did
type TickResult struct {
	Probe    *Probe
	Finished bool
}

// Completion is the effect of a probe result on the engine
type Completion int

const (
	// Stale means the result belonged to a cancelled or superseded probe
	Stale Completion = iota
	// Advanced means the probed index is now the displayed index
	Advanced
	// Skipped means the probed index had no imagery; the next tick fires immediately
	Skipped
)
