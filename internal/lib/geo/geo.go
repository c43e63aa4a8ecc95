package geo

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/twpayne/go-polyline"
)

// Distance returns the great-circle distance between two points in meters
func Distance(a, b Point) float64 {
	if a.Equal(b) {
		return 0
	}
	return orbgeo.DistanceHaversine(toOrb(a), toOrb(b))
}

// Heading returns the initial bearing from a to b in degrees, normalized to [-180, 180)
func Heading(a, b Point) float64 {
	return normalizeHeading(orbgeo.Bearing(toOrb(a), toOrb(b)))
}

// Offset returns the point reached by travelling distanceMeters from p along heading
func Offset(p Point, distanceMeters, heading float64) Point {
	return fromOrb(orbgeo.PointAtBearingAndDistance(toOrb(p), heading, distanceMeters))
}

// DecodePolyline decodes a Google encoded polyline into a point sequence
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{Latitude: coord[0], Longitude: coord[1]}
		if !IsValid(points[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}
	return points, nil
}

// EncodePolyline encodes points using the Google polyline algorithm
func EncodePolyline(points []Point) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// NewPoint creates a Point without range checks
func NewPoint(latitude, longitude float64) Point {
	return Point{Latitude: latitude, Longitude: longitude}
}

// ParsePoint creates a Point from latitude and longitude values with validation
func ParsePoint(latitude, longitude float64) (Point, error) {
	point := NewPoint(latitude, longitude)
	if !IsValid(point) {
		return Point{}, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return point, nil
}

// IsValid validates latitude and longitude ranges
func IsValid(p Point) bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// orb points are [lon, lat]
func toOrb(p Point) orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

func fromOrb(p orb.Point) Point {
	return Point{Latitude: p.Lat(), Longitude: p.Lon()}
}

func normalizeHeading(h float64) float64 {
	h = math.Mod(h+180, 360)
	if h < 0 {
		h += 360
	}
	return h - 180
}
