package api

import (
	"github.com/mapalert/go-map-alert/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toGeoJSON(alerts []models.AlertMarker) FeatureCollection {
	features := make([]Feature, 0, len(alerts))

	for _, a := range alerts {
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{a.Coordinates.Longitude, a.Coordinates.Latitude},
			},
			Properties: map[string]any{
				"id":                 a.ID,
				"name":               a.Name,
				"projectId":          a.ProjectID,
				"projectName":        a.ProjectName,
				"detectionDateStart": a.DetectionStart,
				"detectionDateEnd":   a.DetectionEnd,
				"sourceId":           a.SourceID,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
