package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"

	"github.com/dpup/ride.ersn.net/server/internal/cache"
	"github.com/dpup/ride.ersn.net/server/internal/clients/google"
	"github.com/dpup/ride.ersn.net/server/internal/config"
	"github.com/dpup/ride.ersn.net/server/internal/lib/narrative"
	"github.com/dpup/ride.ersn.net/server/internal/lib/panorama"
	"github.com/dpup/ride.ersn.net/server/internal/services"
	"github.com/dpup/ride.ersn.net/server/internal/store"
)

func main() {
	// Load configuration using Prefab's config system
	appConfig := loadConfig()

	ctx, cancel := context.WithCancel(logging.With(context.Background(), logging.NewProdLogger()))
	defer cancel()

	// Initialize cache
	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, appConfig.Google.CacheTTL)

	// Initialize external API clients
	if appConfig.Google.APIKey == "" {
		log.Fatal("Google Maps API key is required (google.api_key or GOOGLE_MAPS_API_KEY)")
	}
	googleClient, err := google.NewClient(appConfig.Google.APIKey)
	if err != nil {
		log.Fatalf("Failed to create Google Maps client: %v", err)
	}

	narrator, err := narrative.New(appConfig.Narrative.Provider, appConfig.Narrative.APIKey, appConfig.Narrative.Model)
	if err != nil {
		log.Fatalf("Failed to create narrator: %v", err)
	}
	if appConfig.Narrative.APIKey == "" && appConfig.Narrative.Provider != narrative.ProviderNone {
		log.Printf("Narrative API key is not set, route narratives are disabled")
	}
	narrator = narrative.NewCached(narrator, cacheInstance, narrative.DefaultCacheTTL)

	history, err := store.Open(appConfig.History.Path)
	if err != nil {
		log.Fatalf("Failed to open ride history: %v", err)
	}
	defer history.Close()

	resolver := panorama.NewResolver(googleClient, googleClient, cacheInstance, appConfig.Google.CacheTTL)
	prefetcher := services.NewPrefetcher(resolver, appConfig.Playback.PanoramaRadius, appConfig.Playback.PrefetchAhead, 8)

	sessions := services.NewSessions(ctx, services.RideDeps{
		Router:   googleClient,
		Resolver: resolver,
		Narrator: narrator,
		History:  history,
		Prefetch: prefetcher,
		Config:   appConfig.Playback,
	}, appConfig.Sessions)
	defer sessions.CloseAll()

	if err := sessions.StartSweeper(ctx); err != nil {
		log.Printf("Failed to start session sweeper: %v", err)
	}

	api := services.NewAPI(sessions, googleClient, history, appConfig.History.Limit)

	log.Printf("Street View ride server starting")
	log.Printf("Sample spacing: %.0fm (range %.0f-%.0fm), speed %v (range %v-%v)",
		appConfig.Playback.DefaultSpacing, appConfig.Playback.MinSpacing, appConfig.Playback.MaxSpacing,
		appConfig.Playback.DefaultSpeed, appConfig.Playback.MinSpeed, appConfig.Playback.MaxSpeed)
	log.Printf("Narrative provider: %s", appConfig.Narrative.Provider)

	// Server configuration (port, etc.) will be loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithHTTPHandlerFunc("/api/", api.Routes().ServeHTTP),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadConfig loads configuration using Prefab's config system
// Configuration is loaded from prefab.yaml and environment variables with PF__ prefix,
// API keys may also come from the environment or a local .env file
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	sections := map[string]any{
		"playback":  &appConfig.Playback,
		"google":    &appConfig.Google,
		"narrative": &appConfig.Narrative,
		"sessions":  &appConfig.Sessions,
		"history":   &appConfig.History,
	}
	for key, section := range sections {
		if err := prefab.Config.Unmarshal(key, section); err != nil {
			log.Fatalf("Failed to unmarshal %s section: %v", key, err)
		}
	}

	appConfig.Normalize()
	appConfig.LoadSecrets(".env")
	return appConfig
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>ride.ersn.net</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">ride.ersn.net</span>

Virtual drive-through of any route using street-level imagery.
Plan a route, then play it back as a slideshow of Street View panoramas.

<span class="header">API Endpoints:</span>

Rides API:
  POST   /api/v1/rides                      - Start a ride session
  GET    /api/v1/rides/{id}                 - Current ride snapshot
  POST   /api/v1/rides/{id}/search          - Plan a route {start, end, language}
  POST   /api/v1/rides/{id}/play|pause|toggle|stop
  POST   /api/v1/rides/{id}/seek            - Jump to {index} or {lat, lng}
  POST   /api/v1/rides/{id}/speed           - Time per step {ms}
  POST   /api/v1/rides/{id}/spacing         - Sample spacing {meters}
  POST   /api/v1/rides/{id}/language        - Switch language {language}
  GET    /api/v1/rides/{id}/samples         - Sampled path
  GET    /api/v1/rides/{id}/route.kml       - Route as KML
  GET    /api/v1/rides/{id}/feed            - Websocket snapshot feed
  DELETE /api/v1/rides/{id}                 - End the session

Other:
  GET    /api/v1/geocode/reverse?lat=&amp;lng=   - Address for a position
  <a href="/api/v1/history">GET    /api/v1/history</a>                    - Recent searches

<span class="header">Data Sources:</span>
  • Google Directions API   - Driving routes and turn-by-turn steps
  • Google Street View API  - Panorama availability
  • Google Geocoding API    - Place names along the route
  • Gemini / OpenAI         - Route narratives
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
