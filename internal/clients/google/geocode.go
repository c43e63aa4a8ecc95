package google

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
)

// ReverseGeocode describes point with the provider's default language
func (c *Client) ReverseGeocode(ctx context.Context, point geo.Point) (string, error) {
	return c.ReverseGeocodeIn(ctx, point, "")
}

// ReverseGeocodeIn returns the formatted address nearest point. An empty
// string with a nil error means the provider knows nothing about the point.
func (c *Client) ReverseGeocodeIn(ctx context.Context, point geo.Point, language string) (string, error) {
	results, err := c.maps.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: point.Latitude, Lng: point.Longitude},
		Language: language,
	})
	if err != nil {
		if strings.Contains(err.Error(), "ZERO_RESULTS") {
			return "", nil
		}
		return "", fmt.Errorf("reverse geocoding failed: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].FormattedAddress, nil
}
