// Package export renders rides in formats other mapping tools understand.
package export

import (
	"fmt"
	"image/color"
	"io"

	"github.com/twpayne/go-kml"

	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
	"github.com/dpup/ride.ersn.net/server/internal/lib/sampler"
)

// Ride is the exportable view of a ride session
type Ride struct {
	Name         string
	Description  string
	Instructions []sampler.RouteInstruction
	Samples      sampler.Sequence
	CurrentIndex int // -1 when there is no position
}

var pathColor = color.RGBA{R: 0x42, G: 0x85, B: 0xf4, A: 0xff}

// WriteKML writes the ride as a KML document: the sampled path, one placemark
// per turn-by-turn instruction and the current position.
func WriteKML(w io.Writer, ride Ride) error {
	if len(ride.Samples) == 0 {
		return fmt.Errorf("ride has no samples to export")
	}

	name := ride.Name
	if name == "" {
		name = "Ride"
	}

	elements := []kml.Element{
		kml.Name(name),
	}
	if ride.Description != "" {
		elements = append(elements, kml.Description(ride.Description))
	}

	elements = append(elements, kml.Placemark(
		kml.Name("Path"),
		kml.Style(
			kml.LineStyle(
				kml.Color(pathColor),
				kml.Width(4),
			),
		),
		kml.LineString(
			kml.Tessellate(true),
			kml.Coordinates(coordinates(ride.Samples.Points())...),
		),
	))

	if len(ride.Instructions) > 0 {
		folder := []kml.Element{kml.Name("Directions")}
		for i, instruction := range ride.Instructions {
			if len(instruction.Path) == 0 {
				continue
			}
			folder = append(folder, kml.Placemark(
				kml.Name(fmt.Sprintf("%d. %s", i+1, instruction.Instruction)),
				kml.Description(fmt.Sprintf("%s, %s", instruction.DistanceText, instruction.DurationText)),
				kml.Point(kml.Coordinates(coordinate(instruction.Path[0]))),
			))
		}
		elements = append(elements, kml.Folder(folder...))
	}

	if ride.CurrentIndex >= 0 && ride.CurrentIndex < len(ride.Samples) {
		elements = append(elements, kml.Placemark(
			kml.Name("Current position"),
			kml.Point(kml.Coordinates(coordinate(ride.Samples[ride.CurrentIndex].Coordinate))),
		))
	}

	return kml.KML(kml.Document(elements...)).WriteIndent(w, "", "  ")
}

func coordinate(p geo.Point) kml.Coordinate {
	return kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
}

func coordinates(points []geo.Point) []kml.Coordinate {
	out := make([]kml.Coordinate, len(points))
	for i, p := range points {
		out[i] = coordinate(p)
	}
	return out
}
