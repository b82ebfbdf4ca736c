package models

import "math"

type CoordinateSource string

const (
	SourceMapClick    CoordinateSource = "map"
	SourceManualEntry CoordinateSource = "manual"
	SourceSearch      CoordinateSource = "search"
)

type Coordinates struct {
	Latitude  float64          `json:"latitude"`
	Longitude float64          `json:"longitude"`
	Source    CoordinateSource `json:"source"`
}

// NewCoordinates builds a coordinate pair from the given source. Map clicks
// are rounded to 6 decimal places; manual and search values are kept as-is.
func NewCoordinates(lat, lng float64, source CoordinateSource) Coordinates {
	if source == SourceMapClick {
		lat = round6(lat)
		lng = round6(lng)
	}
	return Coordinates{Latitude: lat, Longitude: lng, Source: source}
}

func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
