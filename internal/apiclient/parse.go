package apiclient

import (
	"encoding/json"
	"fmt"

	"github.com/mapalert/go-map-alert/internal/models"
)

// Servers wrap list responses inconsistently. Known envelopes are tried in
// a fixed order: bare array, {"data": [...]}, then the named key. Anything
// else is a parse error, never defaulted.
func unwrapList(body []byte, namedKey string) (json.RawMessage, error) {
	var bare json.RawMessage
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, parseError(fmt.Sprintf("invalid JSON response: %v", err))
	}

	if len(bare) > 0 && bare[0] == '[' {
		return bare, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, parseError(fmt.Sprintf("unrecognized response shape: %v", err))
	}
	for _, key := range []string{"data", namedKey} {
		if raw, ok := envelope[key]; ok && len(raw) > 0 && raw[0] == '[' {
			return raw, nil
		}
	}

	return nil, parseError(fmt.Sprintf("response is neither an array nor wrapped in %q or %q", "data", namedKey))
}

type projectEntry struct {
	ProjectID string `json:"projectId"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Title     string `json:"title"`
}

func parseProjects(body []byte) ([]models.Project, error) {
	raw, err := unwrapList(body, "projects")
	if err != nil {
		return nil, err
	}

	var entries []projectEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, parseError(fmt.Sprintf("invalid project list: %v", err))
	}

	projects := make([]models.Project, 0, len(entries))
	for i, e := range entries {
		id := e.ProjectID
		if id == "" {
			id = e.ID
		}
		if id == "" {
			id = fmt.Sprintf("project-%d", i)
		}
		name := e.Name
		if name == "" {
			name = e.Title
		}
		if name == "" {
			name = fmt.Sprintf("Project %d", i+1)
		}
		projects = append(projects, models.Project{ProjectID: id, Name: name})
	}

	return projects, nil
}

type alertEntry struct {
	ID                 string `json:"id"`
	SourceID           string `json:"sourceId"`
	DetectionDateStart string `json:"detectionDateStart"`
	DetectionDateEnd   string `json:"detectionDateEnd"`
	Metadata           struct {
		AlertType string `json:"alert_type"`
	} `json:"metadata"`
	Geometry *geometry `json:"geometry"`
}

func parseAlerts(body []byte, project models.Project) ([]models.AlertMarker, error) {
	raw, err := unwrapList(body, "alerts")
	if err != nil {
		return nil, err
	}

	var entries []alertEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, parseError(fmt.Sprintf("invalid alert list: %v", err))
	}

	markers := make([]models.AlertMarker, 0, len(entries))
	for i, e := range entries {
		// A marker needs a point to sit on; alerts without geometry are
		// dropped silently.
		if e.Geometry == nil || len(e.Geometry.Coordinates) < 2 {
			continue
		}

		id := e.ID
		if id == "" {
			id = fmt.Sprintf("%s-alert-%d", project.ProjectID, i)
		}
		name := e.Metadata.AlertType
		if name == "" {
			name = id
		}

		markers = append(markers, models.AlertMarker{
			ID:          id,
			Name:        name,
			ProjectID:   project.ProjectID,
			ProjectName: project.Name,
			Coordinates: models.Coordinates{
				Longitude: e.Geometry.Coordinates[0],
				Latitude:  e.Geometry.Coordinates[1],
			},
			DetectionStart: e.DetectionDateStart,
			DetectionEnd:   e.DetectionDateEnd,
			SourceID:       e.SourceID,
		})
	}

	return markers, nil
}
