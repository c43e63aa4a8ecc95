package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
	"github.com/dpup/ride.ersn.net/server/internal/lib/panorama"
)

// streetViewMetadataResponse is the Street View Static API metadata payload
type streetViewMetadataResponse struct {
	Status       string `json:"status"`
	PanoID       string `json:"pano_id"`
	Date         string `json:"date"`
	Copyright    string `json:"copyright"`
	ErrorMessage string `json:"error_message"`
	Location     struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}

// LookupPanorama finds the nearest Street View panorama within radius meters.
// Metadata requests are not billed, so they serve as the existence probe.
func (c *Client) LookupPanorama(ctx context.Context, point geo.Point, radiusMeters float64) (*panorama.Metadata, error) {
	params := url.Values{}
	params.Set("location", fmt.Sprintf("%f,%f", point.Latitude, point.Longitude))
	params.Set("radius", strconv.Itoa(int(radiusMeters)))
	params.Set("source", "outdoor")
	params.Set("key", c.apiKey)

	reqURL := c.baseURL + "/maps/api/streetview/metadata?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 429 {
		return nil, fmt.Errorf("rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var response streetViewMetadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &panorama.Metadata{
		Status:     panorama.Status(response.Status),
		PanoramaID: response.PanoID,
		Location:   geo.NewPoint(response.Location.Lat, response.Location.Lng),
		Date:       response.Date,
		Copyright:  response.Copyright,
	}, nil
}
