package geocode

import (
	"context"
	"strings"
)

// Result is a resolved place name with its coordinates.
type Result struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Geocoder interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// StaticGeocoder resolves queries against a built-in gazetteer. It stands in
// for a real geocoding provider until one is wired up; matching is a
// case-insensitive substring test on the place name.
type StaticGeocoder struct {
	places []Result
}

func NewStatic() *StaticGeocoder {
	return &StaticGeocoder{
		places: []Result{
			{Name: "London", Latitude: 51.5074, Longitude: -0.1278},
			{Name: "Paris", Latitude: 48.8566, Longitude: 2.3522},
			{Name: "New York", Latitude: 40.7128, Longitude: -74.0060},
			{Name: "Tokyo", Latitude: 35.6762, Longitude: 139.6503},
			{Name: "Nairobi", Latitude: -1.2921, Longitude: 36.8219},
			{Name: "Manaus", Latitude: -3.1190, Longitude: -60.0217},
			{Name: "Quito", Latitude: -0.1807, Longitude: -78.4678},
			{Name: "Jakarta", Latitude: -6.2088, Longitude: 106.8456},
		},
	}
}

func (g *StaticGeocoder) Search(ctx context.Context, query string) ([]Result, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	var matches []Result
	for _, p := range g.places {
		if strings.Contains(strings.ToLower(p.Name), q) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}
