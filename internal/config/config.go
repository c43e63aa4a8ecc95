package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/dpup/ride.ersn.net/server/internal/lib/playback"
)

// Config represents the complete server configuration. Each section is
// unmarshalled from prefab.yaml (or PF__ environment variables) by key.
type Config struct {
	Playback  PlaybackConfig  `koanf:"playback"`
	Google    GoogleConfig    `koanf:"google"`
	Narrative NarrativeConfig `koanf:"narrative"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	History   HistoryConfig   `koanf:"history"`
}

// PlaybackConfig bounds the user-adjustable playback settings
type PlaybackConfig struct {
	MinSpeed       time.Duration `koanf:"min_speed"`
	MaxSpeed       time.Duration `koanf:"max_speed"`
	DefaultSpeed   time.Duration `koanf:"default_speed"`
	MinSpacing     float64       `koanf:"min_spacing_meters"`
	MaxSpacing     float64       `koanf:"max_spacing_meters"`
	DefaultSpacing float64       `koanf:"default_spacing_meters"`
	PanoramaRadius float64       `koanf:"panorama_radius_meters"`
	SeekRadius     float64       `koanf:"seek_radius_meters"` // map clicks farther than this from the path are ignored
	TickInterval   time.Duration `koanf:"tick_interval"`
	PrefetchAhead  int           `koanf:"prefetch_ahead"` // samples warmed ahead of playback, negative disables
}

// GoogleConfig holds Google Maps Platform settings
type GoogleConfig struct {
	APIKey   string        `koanf:"api_key"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// NarrativeConfig selects the route narrative provider
type NarrativeConfig struct {
	Provider string `koanf:"provider"` // gemini, openai or none
	APIKey   string `koanf:"api_key"`
	Model    string `koanf:"model"`
}

// SessionsConfig controls ride session lifetime
type SessionsConfig struct {
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	MaxSessions   int           `koanf:"max_sessions"`
}

// HistoryConfig holds ride history storage settings
type HistoryConfig struct {
	Path  string `koanf:"path"`
	Limit int    `koanf:"limit"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Playback: PlaybackConfig{
			MinSpeed:       250 * time.Millisecond,
			MaxSpeed:       5000 * time.Millisecond,
			DefaultSpeed:   1500 * time.Millisecond,
			MinSpacing:     50,
			MaxSpacing:     1000,
			DefaultSpacing: 200,
			PanoramaRadius: 100,
			SeekRadius:     2000,
			TickInterval:   100 * time.Millisecond,
			PrefetchAhead:  3,
		},
		Google: GoogleConfig{
			CacheTTL: 30 * time.Minute,
		},
		Narrative: NarrativeConfig{
			Provider: "gemini",
		},
		Sessions: SessionsConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
			MaxSessions:   1000,
		},
		History: HistoryConfig{
			Path:  "ride-history.db",
			Limit: 20,
		},
	}
}

// Limits returns the playback speed bounds
func (p PlaybackConfig) Limits() playback.Limits {
	return playback.Limits{
		MinSpeed:     p.MinSpeed,
		MaxSpeed:     p.MaxSpeed,
		DefaultSpeed: p.DefaultSpeed,
	}
}

// ClampSpacing bounds a requested sample spacing to the configured range
func (p PlaybackConfig) ClampSpacing(meters float64) float64 {
	if meters < p.MinSpacing {
		return p.MinSpacing
	}
	if meters > p.MaxSpacing {
		return p.MaxSpacing
	}
	return meters
}

// Normalize fills zero values from DefaultConfig and repairs inverted ranges
func (c *Config) Normalize() {
	d := DefaultConfig()

	p := &c.Playback
	if p.MinSpeed <= 0 {
		p.MinSpeed = d.Playback.MinSpeed
	}
	if p.MaxSpeed < p.MinSpeed {
		p.MaxSpeed = max(d.Playback.MaxSpeed, p.MinSpeed)
	}
	if p.DefaultSpeed <= 0 {
		p.DefaultSpeed = d.Playback.DefaultSpeed
	}
	p.DefaultSpeed = p.Limits().Clamp(p.DefaultSpeed)

	if p.MinSpacing <= 0 {
		p.MinSpacing = d.Playback.MinSpacing
	}
	if p.MaxSpacing < p.MinSpacing {
		p.MaxSpacing = max(d.Playback.MaxSpacing, p.MinSpacing)
	}
	if p.DefaultSpacing <= 0 {
		p.DefaultSpacing = d.Playback.DefaultSpacing
	}
	p.DefaultSpacing = p.ClampSpacing(p.DefaultSpacing)

	if p.PanoramaRadius <= 0 {
		p.PanoramaRadius = d.Playback.PanoramaRadius
	}
	if p.SeekRadius <= 0 {
		p.SeekRadius = d.Playback.SeekRadius
	}
	if p.TickInterval <= 0 {
		p.TickInterval = d.Playback.TickInterval
	}
	if p.PrefetchAhead == 0 {
		p.PrefetchAhead = d.Playback.PrefetchAhead
	}

	if c.Google.CacheTTL <= 0 {
		c.Google.CacheTTL = d.Google.CacheTTL
	}
	if c.Narrative.Provider == "" {
		c.Narrative.Provider = d.Narrative.Provider
	}
	if c.Sessions.IdleTimeout <= 0 {
		c.Sessions.IdleTimeout = d.Sessions.IdleTimeout
	}
	if c.Sessions.SweepInterval <= 0 {
		c.Sessions.SweepInterval = d.Sessions.SweepInterval
	}
	if c.Sessions.MaxSessions <= 0 {
		c.Sessions.MaxSessions = d.Sessions.MaxSessions
	}
	if c.History.Path == "" {
		c.History.Path = d.History.Path
	}
	if c.History.Limit <= 0 {
		c.History.Limit = d.History.Limit
	}
}

// LoadSecrets fills empty API keys from the process environment, falling
// back to a .env file at envPath. Missing files are ignored.
func (c *Config) LoadSecrets(envPath string) {
	envFile, _ := godotenv.Read(envPath)
	lookup := func(keys ...string) string {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				return v
			}
		}
		for _, key := range keys {
			if v := envFile[key]; v != "" {
				return v
			}
		}
		return ""
	}

	if c.Google.APIKey == "" {
		c.Google.APIKey = lookup("GOOGLE_MAPS_API_KEY")
	}
	if c.Narrative.APIKey == "" {
		switch c.Narrative.Provider {
		case "openai":
			c.Narrative.APIKey = lookup("OPENAI_API_KEY")
		default:
			c.Narrative.APIKey = lookup("GEMINI_API_KEY", "API_KEY")
		}
	}
}
