package panorama

import (
	"context"

	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
)

// Status is the imagery provider's lookup status
type Status string

const (
	StatusOK             Status = "OK"
	StatusZeroResults    Status = "ZERO_RESULTS"
	StatusNotFound       Status = "NOT_FOUND"
	StatusOverQueryLimit Status = "OVER_QUERY_LIMIT"
	StatusRequestDenied  Status = "REQUEST_DENIED"
	StatusInvalidRequest Status = "INVALID_REQUEST"
	StatusUnknownError   Status = "UNKNOWN_ERROR"
)

// Metadata is the raw result of a nearest-panorama lookup
type Metadata struct {
	Status     Status    `json:"status"`
	PanoramaID string    `json:"pano_id,omitempty"`
	Location   geo.Point `json:"location"`
	Date       string    `json:"date,omitempty"`
	Copyright  string    `json:"copyright,omitempty"`
}

// Outcome is the result of resolving one coordinate. Found=false is a normal
// result meaning "no imagery nearby", not an error.
type Outcome struct {
	Found       bool      `json:"found"`
	PanoramaID  string    `json:"pano_id,omitempty"`
	Location    geo.Point `json:"location"`
	Description string    `json:"description,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Provider finds the nearest panorama to a point within radius meters
type Provider interface {
	LookupPanorama(ctx context.Context, point geo.Point, radiusMeters float64) (*Metadata, error)
}

// Describer turns a coordinate into a human-readable place description
type Describer interface {
	ReverseGeocode(ctx context.Context, point geo.Point) (string, error)
}
