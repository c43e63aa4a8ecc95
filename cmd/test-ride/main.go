package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"github.com/dpup/ride.ersn.net/server/internal/cache"
	"github.com/dpup/ride.ersn.net/server/internal/clients/google"
	"github.com/dpup/ride.ersn.net/server/internal/lib/narrative"
	"github.com/dpup/ride.ersn.net/server/internal/lib/panorama"
	"github.com/dpup/ride.ersn.net/server/internal/lib/playback"
	"github.com/dpup/ride.ersn.net/server/internal/lib/sampler"
)

func main() {
	var (
		apiKey   = flag.String("api-key", "", "Google Maps API key (or set GOOGLE_API_KEY env var)")
		origin   = flag.String("origin", "Angels Camp, CA", "Start location")
		dest     = flag.String("dest", "Murphys, CA", "End location")
		lang     = flag.String("lang", "en", "Language for directions and narrative")
		spacing  = flag.Float64("spacing", 200, "Sample spacing in meters")
		radius   = flag.Float64("radius", 50, "Panorama search radius in meters")
		narrate  = flag.String("narrate", "", "Narrative provider to try (gemini or openai)")
		showPath = flag.Bool("samples", false, "Print every sample")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Street View Ride Check\n\n")
		fmt.Printf("Fetches a route, samples it and finds the first Street View panorama.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -api-key=YOUR_KEY\n", os.Args[0])
		fmt.Printf("  %s -origin=\"Sonora, CA\" -dest=\"Arnold, CA\" -spacing=100\n", os.Args[0])
		fmt.Printf("  %s -lang=th -narrate=gemini\n", os.Args[0])
		return
	}

	_ = godotenv.Load()

	key := *apiKey
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key == "" {
		log.Fatal("Google Maps API key required. Use -api-key flag or GOOGLE_API_KEY env var")
	}

	tag, err := language.Parse(*lang)
	if err != nil {
		log.Fatalf("Invalid language %q: %v", *lang, err)
	}

	client, err := google.NewClient(key)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Printf("Street View Ride Check\n")
	fmt.Printf("======================\n")
	fmt.Printf("From: %s\n", *origin)
	fmt.Printf("To:   %s\n\n", *dest)

	dirs, err := client.Directions(ctx, *origin, *dest, tag.String())
	if err != nil {
		log.Fatalf("Directions failed: %v", err)
	}
	fmt.Printf("✅ Route: %s (%s, %s)\n", dirs.Summary, dirs.TotalDistance, dirs.TotalDuration)
	fmt.Printf("   %s -> %s\n", dirs.StartAddress, dirs.EndAddress)
	fmt.Printf("   %d instructions\n", len(dirs.Instructions))

	seq := sampler.Sample(dirs.Instructions, *spacing)
	fmt.Printf("✅ Sampled %d points at %.0fm spacing\n", len(seq), *spacing)
	if *showPath {
		for i, s := range seq {
			fmt.Printf("   %4d  %.6f,%.6f  %s\n", i, s.Coordinate.Latitude, s.Coordinate.Longitude,
				dirs.Instructions[s.SourceInstructionIndex].Instruction)
		}
	}

	resolver := panorama.NewResolver(client, client, cache.NewCache(), time.Hour)
	start := time.Now()
	placement, err := playback.FindInitial(ctx, resolver, seq, 0, *radius)
	if err != nil {
		log.Fatalf("Initial panorama search failed: %v", err)
	}
	fmt.Printf("✅ First panorama at sample %d of %d (%v)\n", placement.Index+1, len(seq), time.Since(start).Round(time.Millisecond))
	fmt.Printf("   Panorama: %s\n", placement.Outcome.PanoramaID)
	if placement.Outcome.Description != "" {
		fmt.Printf("   View from: %s\n", placement.Outcome.Description)
	}

	if *narrate != "" {
		apiKeyVar := "GEMINI_API_KEY"
		if *narrate == narrative.ProviderOpenAI {
			apiKeyVar = "OPENAI_API_KEY"
		}
		narrator, err := narrative.New(*narrate, os.Getenv(apiKeyVar), "")
		if err != nil {
			log.Fatalf("Failed to create narrator: %v", err)
		}
		text, err := narrator.Narrate(ctx, *origin, *dest, tag)
		if err != nil {
			log.Fatalf("Narrative failed: %v", err)
		}
		fmt.Printf("\n%s\n", text)
	}

	fmt.Printf("\n🎉 Ride check passed!\n")
}
