package google

import (
	"fmt"
	"net/http"
	"time"

	"googlemaps.github.io/maps"
)

const defaultBaseURL = "https://maps.googleapis.com"

// HTTPDoer is the subset of *http.Client used for raw endpoint calls
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to the Google Maps Platform: directions and reverse
// geocoding through the maps SDK, Street View metadata over plain HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	maps       *maps.Client
}

// NewClient creates a new Google Maps Platform client
func NewClient(apiKey string) (*Client, error) {
	return NewClientWithHTTPDoer(apiKey, defaultBaseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client against baseURL using doer for HTTP.
// When doer is an *http.Client the maps SDK shares it.
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google maps API key is required")
	}

	opts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if baseURL != defaultBaseURL {
		opts = append(opts, maps.WithBaseURL(baseURL))
	}
	if hc, ok := doer.(*http.Client); ok {
		opts = append(opts, maps.WithHTTPClient(hc))
	}

	mc, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: doer,
		maps:       mc,
	}, nil
}
