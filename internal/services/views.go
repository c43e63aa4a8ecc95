package services

import (
	"context"
	"net/http"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/gorilla/websocket"

	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
	"github.com/dpup/ride.ersn.net/server/internal/lib/i18n"
	"github.com/dpup/ride.ersn.net/server/internal/lib/playback"
	"github.com/dpup/ride.ersn.net/server/internal/lib/sampler"
)

// Snapshot is the read-only state handed to view adapters
type Snapshot struct {
	ID         string         `json:"id"`
	Version    uint64         `json:"version"`
	Language   string         `json:"language"`
	Searching  bool           `json:"searching"`
	Error      string         `json:"error,omitempty"`
	Route      *RouteSummary  `json:"route,omitempty"`
	Narrative  string         `json:"narrative,omitempty"`
	Playback   PlaybackView   `json:"playback"`
	Map        MapView        `json:"map"`
	Panorama   PanoramaView   `json:"panorama"`
	Directions DirectionsView `json:"directions"`
}

// RouteSummary describes the loaded route
type RouteSummary struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	StartAddress  string `json:"start_address"`
	EndAddress    string `json:"end_address"`
	Summary       string `json:"summary"`
	TotalDistance string `json:"total_distance"`
	TotalDuration string `json:"total_duration"`
}

// PlaybackView feeds the playback controls
type PlaybackView struct {
	Status        playback.Status `json:"status"`
	CurrentIndex  int             `json:"current_index"`
	SampleCount   int             `json:"sample_count"`
	Progress      float64         `json:"progress"`
	SpeedMillis   int64           `json:"speed_ms"`
	SpacingMeters float64         `json:"spacing_meters"`
	Locating      bool            `json:"locating"`
	Message       string          `json:"message,omitempty"`
}

// MapView feeds the overview map. Clicks on the map come back as seek
// commands carrying the clicked point.
type MapView struct {
	OverviewPolyline string     `json:"overview_polyline,omitempty"`
	Origin           *geo.Point `json:"origin,omitempty"`
	Destination      *geo.Point `json:"destination,omitempty"`
	Position         *geo.Point `json:"position,omitempty"`
}

// PanoramaView feeds the street-level viewer
type PanoramaView struct {
	Visible    bool       `json:"visible"`
	PanoramaID string     `json:"pano_id,omitempty"`
	Location   *geo.Point `json:"location,omitempty"`
	Heading    float64    `json:"heading"`
	Pitch      float64    `json:"pitch"`
	Caption    string     `json:"caption,omitempty"`
}

// DirectionsView feeds the turn-by-turn list
type DirectionsView struct {
	Active       int               `json:"active"`
	Instructions []InstructionView `json:"instructions"`
}

// InstructionView is one row of the directions list
type InstructionView struct {
	Text     string `json:"text"`
	Distance string `json:"distance"`
	Duration string `json:"duration"`
}

// snapshot builds the view state; it must run on the ride loop
func (r *Ride) snapshot() Snapshot {
	state := r.engine.State()
	seq := r.engine.Sequence()

	snap := Snapshot{
		ID:        r.id,
		Version:   r.version,
		Language:  r.loc.Tag().String(),
		Searching: r.searching,
		Error:     r.failure.render(r.loc),
		Narrative: r.narrative,
		Playback: PlaybackView{
			Status:        state.Status,
			CurrentIndex:  state.CurrentIndex,
			SampleCount:   len(seq),
			Progress:      r.engine.Progress(),
			SpeedMillis:   r.engine.Speed().Milliseconds(),
			SpacingMeters: r.spacing,
			Locating:      r.locating,
			Message:       r.status.render(r.loc),
		},
		Directions: DirectionsView{Active: -1, Instructions: []InstructionView{}},
	}

	if d := r.directions; d != nil {
		snap.Route = &RouteSummary{
			Origin:        r.origin,
			Destination:   r.destination,
			StartAddress:  d.StartAddress,
			EndAddress:    d.EndAddress,
			Summary:       d.Summary,
			TotalDistance: d.TotalDistance,
			TotalDuration: d.TotalDuration,
		}
		origin, destination := d.Origin, d.Destination
		snap.Map.Origin = &origin
		snap.Map.Destination = &destination
		snap.Map.OverviewPolyline = d.Overview.EncodedPolyline
		if snap.Map.OverviewPolyline == "" && len(seq) > 0 {
			snap.Map.OverviewPolyline = geo.EncodePolyline(seq.Points())
		}
		for _, instruction := range d.Instructions {
			snap.Directions.Instructions = append(snap.Directions.Instructions, InstructionView{
				Text:     instruction.Instruction,
				Distance: instruction.DistanceText,
				Duration: instruction.DurationText,
			})
		}
	}

	current, ok := r.engine.Current()
	if ok && r.engine.Ready() {
		position := current.Coordinate
		snap.Map.Position = &position
		snap.Directions.Active = current.SourceInstructionIndex
		snap.Panorama.Heading = heading(seq, state.CurrentIndex)
	}

	if p := r.panorama; p != nil && p.Found {
		location := p.Location
		snap.Panorama.Visible = true
		snap.Panorama.PanoramaID = p.PanoramaID
		snap.Panorama.Location = &location
		description := p.Description
		if description == "" {
			description = r.loc.Text(i18n.NearRoute)
		}
		snap.Panorama.Caption = r.loc.Text(i18n.ViewFrom, description)
	}

	return snap
}

// heading points the camera along the route: toward the next sample, or
// away from the previous one at the end of the route
func heading(seq sampler.Sequence, index int) float64 {
	switch {
	case index < 0 || index >= len(seq) || len(seq) < 2:
		return 0
	case index+1 < len(seq):
		return geo.Heading(seq[index].Coordinate, seq[index+1].Coordinate)
	default:
		return geo.Heading(seq[index-1].Coordinate, seq[index].Coordinate)
	}
}

// Command is a view interaction sent over the snapshot feed
type Command struct {
	Type     string     `json:"type"`
	Start    string     `json:"start,omitempty"`
	End      string     `json:"end,omitempty"`
	Language string     `json:"language,omitempty"`
	Index    *int       `json:"index,omitempty"`
	Point    *geo.Point `json:"point,omitempty"`
	Millis   int64      `json:"ms,omitempty"`
	Meters   float64    `json:"meters,omitempty"`
}

// Dispatch applies a view command to the ride
func (r *Ride) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case "search":
		if cmd.Language != "" {
			if err := r.SetLanguage(ctx, cmd.Language); err != nil {
				return err
			}
		}
		return r.Search(ctx, cmd.Start, cmd.End)
	case "play":
		return r.Play(ctx)
	case "pause":
		return r.Pause(ctx)
	case "toggle":
		return r.Toggle(ctx)
	case "stop":
		return r.Stop(ctx)
	case "seek":
		switch {
		case cmd.Index != nil:
			return r.Seek(ctx, *cmd.Index)
		case cmd.Point != nil:
			return r.SeekToPoint(ctx, *cmd.Point)
		default:
			return invalidArgument("seek requires an index or a point")
		}
	case "map_click":
		if cmd.Point == nil {
			return invalidArgument("map_click requires a point")
		}
		return r.SeekToPoint(ctx, *cmd.Point)
	case "speed":
		_, err := r.SetSpeed(ctx, time.Duration(cmd.Millis)*time.Millisecond)
		return err
	case "spacing":
		_, err := r.SetSampleSpacing(ctx, cmd.Meters)
		return err
	case "language":
		return r.SetLanguage(ctx, cmd.Language)
	default:
		return invalidArgument("unknown command type: " + cmd.Type)
	}
}

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
	feedMaxMessage = 4096
)

type feedMessage struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// serveFeed streams snapshots to a websocket client and applies the
// commands it sends back
func serveFeed(w http.ResponseWriter, req *http.Request, ride *Ride) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied to the client
		logging.Warnw(req.Context(), "Feed: websocket upgrade failed", "ride", ride.ID(), "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	snapshots, unsubscribe, err := ride.Subscribe(ctx)
	if err != nil {
		_ = conn.WriteJSON(feedMessage{Type: "error", Error: err.Error()})
		return
	}
	defer unsubscribe()

	replies := make(chan feedMessage, 8)
	go readFeed(ctx, cancel, conn, ride, replies)

	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()

	write := func(msg feedMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		return conn.WriteJSON(msg) == nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "ride closed"),
					time.Now().Add(feedWriteWait))
				return
			}
			ride.Touch()
			if !write(feedMessage{Type: "snapshot", Snapshot: &snap}) {
				return
			}
		case msg := <-replies:
			if !write(msg) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readFeed(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, ride *Ride, replies chan<- feedMessage) {
	defer cancel()

	conn.SetReadLimit(feedMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warnw(ctx, "Feed: read failed", "ride", ride.ID(), "error", err)
			}
			return
		}
		ride.Touch()
		if err := ride.Dispatch(ctx, cmd); err != nil {
			select {
			case replies <- feedMessage{Type: "error", Error: err.Error()}:
			case <-ctx.Done():
				return
			}
		}
	}
}
