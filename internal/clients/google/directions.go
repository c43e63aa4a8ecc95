package google

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
	"github.com/dpup/ride.ersn.net/server/internal/lib/sampler"
)

// ErrorCategory is the user-facing class of a routing failure
type ErrorCategory string

const (
	CategoryNotFound      ErrorCategory = "NOT_FOUND"
	CategoryZeroResults   ErrorCategory = "ZERO_RESULTS"
	CategoryRequestDenied ErrorCategory = "REQUEST_DENIED"
	CategoryOverQuota     ErrorCategory = "OVER_QUOTA"
	CategoryGeneric       ErrorCategory = "GENERIC"
)

// RouteError is a routing failure with the provider status that caused it
type RouteError struct {
	Category ErrorCategory
	Status   string
	Message  string
}

func (e *RouteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("directions failed: %s - %s", e.Status, e.Message)
	}
	return fmt.Sprintf("directions failed: %s", e.Status)
}

// CategorizeStatus maps a Directions API status to an ErrorCategory
func CategorizeStatus(status string) ErrorCategory {
	switch status {
	case "NOT_FOUND":
		return CategoryNotFound
	case "ZERO_RESULTS", "MAX_ROUTE_LENGTH_EXCEEDED":
		return CategoryZeroResults
	case "REQUEST_DENIED":
		return CategoryRequestDenied
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return CategoryOverQuota
	case "INVALID_REQUEST", "MAX_WAYPOINTS_EXCEEDED", "UNKNOWN_ERROR":
		return CategoryGeneric
	default:
		return CategoryGeneric
	}
}

// Directions is a driving route adapted to the internal route model
type Directions struct {
	Instructions  []sampler.RouteInstruction `json:"instructions"`
	Summary       string                     `json:"summary"`
	TotalDistance string                     `json:"total_distance"`
	TotalDuration string                     `json:"total_duration"`
	StartAddress  string                     `json:"start_address"`
	EndAddress    string                     `json:"end_address"`
	Origin        geo.Point                  `json:"origin"`
	Destination   geo.Point                  `json:"destination"`
	Overview      geo.Polyline               `json:"overview"`
}

// Directions requests a driving route between two free-text locations
func (c *Client) Directions(ctx context.Context, origin, destination, language string) (*Directions, error) {
	req := &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
		Language:    language,
	}

	routes, _, err := c.maps.Directions(ctx, req)
	if err != nil {
		return nil, routeErrorFrom(err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, &RouteError{Category: CategoryZeroResults, Status: "ZERO_RESULTS"}
	}

	return adaptRoute(routes[0])
}

// adaptRoute flattens the provider's route/leg/step shape into instructions
func adaptRoute(route maps.Route) (*Directions, error) {
	d := &Directions{Summary: route.Summary}

	var meters int
	var duration time.Duration
	for legIndex, leg := range route.Legs {
		if leg == nil {
			continue
		}
		if legIndex == 0 {
			origin, err := geo.ParsePoint(leg.StartLocation.Lat, leg.StartLocation.Lng)
			if err != nil {
				return nil, fmt.Errorf("invalid route start location: %w", err)
			}
			d.StartAddress = leg.StartAddress
			d.Origin = origin
		}
		destination, err := geo.ParsePoint(leg.EndLocation.Lat, leg.EndLocation.Lng)
		if err != nil {
			return nil, fmt.Errorf("invalid route end location: %w", err)
		}
		d.EndAddress = leg.EndAddress
		d.Destination = destination
		meters += leg.Distance.Meters
		duration += leg.Duration

		for _, step := range leg.Steps {
			if step == nil {
				continue
			}
			instruction, err := adaptStep(step)
			if err != nil {
				return nil, err
			}
			d.Instructions = append(d.Instructions, instruction)
		}
	}

	if route.OverviewPolyline.Points != "" {
		points, err := geo.DecodePolyline(route.OverviewPolyline.Points)
		if err != nil {
			return nil, fmt.Errorf("failed to decode overview polyline: %w", err)
		}
		d.Overview = geo.Polyline{EncodedPolyline: route.OverviewPolyline.Points, Points: points}
	}

	d.TotalDistance = FormatDistance(meters)
	d.TotalDuration = FormatDuration(duration)
	return d, nil
}

func adaptStep(step *maps.Step) (sampler.RouteInstruction, error) {
	var path []geo.Point
	if step.Polyline.Points != "" {
		points, err := geo.DecodePolyline(step.Polyline.Points)
		if err != nil {
			return sampler.RouteInstruction{}, fmt.Errorf("failed to decode step polyline: %w", err)
		}
		path = points
	} else {
		start, err := geo.ParsePoint(step.StartLocation.Lat, step.StartLocation.Lng)
		if err != nil {
			return sampler.RouteInstruction{}, fmt.Errorf("invalid step start location: %w", err)
		}
		end, err := geo.ParsePoint(step.EndLocation.Lat, step.EndLocation.Lng)
		if err != nil {
			return sampler.RouteInstruction{}, fmt.Errorf("invalid step end location: %w", err)
		}
		path = []geo.Point{start, end}
	}

	distanceText := step.Distance.HumanReadable
	if distanceText == "" {
		distanceText = FormatDistance(step.Distance.Meters)
	}

	return sampler.RouteInstruction{
		Path:         path,
		Instruction:  StripHTML(step.HTMLInstructions),
		DistanceText: distanceText,
		DurationText: FormatDuration(step.Duration),
	}, nil
}

// directionsStatuses are the documented non-OK Directions API statuses
var directionsStatuses = []string{
	"NOT_FOUND",
	"ZERO_RESULTS",
	"MAX_WAYPOINTS_EXCEEDED",
	"MAX_ROUTE_LENGTH_EXCEEDED",
	"INVALID_REQUEST",
	"OVER_DAILY_LIMIT",
	"OVER_QUERY_LIMIT",
	"REQUEST_DENIED",
	"UNKNOWN_ERROR",
}

// routeErrorFrom recovers the API status from SDK errors, which carry it as
// "maps: STATUS - message"
func routeErrorFrom(err error) error {
	var routeErr *RouteError
	if errors.As(err, &routeErr) {
		return routeErr
	}

	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "maps: "); ok {
		status, detail, _ := strings.Cut(rest, " - ")
		for _, known := range directionsStatuses {
			if strings.TrimSpace(status) == known {
				return &RouteError{
					Category: CategorizeStatus(known),
					Status:   known,
					Message:  strings.TrimSpace(detail),
				}
			}
		}
	}
	for _, known := range directionsStatuses {
		if strings.Contains(msg, known) {
			return &RouteError{Category: CategorizeStatus(known), Status: known, Message: msg}
		}
	}

	return &RouteError{Category: CategoryGeneric, Status: "UNKNOWN_ERROR", Message: msg}
}

// StripHTML reduces an HTML instruction to plain text
func StripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
}

// FormatDistance renders meters the way the directions panel shows them
func FormatDistance(meters int) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", meters)
	}
	return fmt.Sprintf("%.1f km", float64(meters)/1000)
}

// FormatDuration renders a duration as hours and minutes
func FormatDuration(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	hours := minutes / 60
	minutes %= 60

	unit := func(n int, singular string) string {
		if n == 1 {
			return fmt.Sprintf("%d %s", n, singular)
		}
		return fmt.Sprintf("%d %ss", n, singular)
	}

	switch {
	case hours == 0:
		return unit(minutes, "min")
	case minutes == 0:
		return unit(hours, "hour")
	default:
		return unit(hours, "hour") + " " + unit(minutes, "min")
	}
}
