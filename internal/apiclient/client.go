package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mapalert/go-map-alert/internal/models"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

// maxErrorBody caps how much of an error response body is read for the
// error message.
const maxErrorBody = 4 << 10

// Client performs authenticated calls against one alert server. It keeps no
// state beyond the HTTP client: no caching, no retries, and it never
// substitutes placeholder data on failure.
type Client struct {
	httpClient *http.Client
}

func New(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListProjects fetches the projects visible to the given credentials. This
// doubles as credential validation: there is no dedicated auth endpoint, so
// a 401/403 here means the token is bad.
func (c *Client) ListProjects(ctx context.Context, creds models.Credentials) ([]models.Project, error) {
	body, err := c.get(ctx, creds, creds.ServerBase()+"/projects")
	if err != nil {
		return nil, err
	}

	projects, err := parseProjects(body)
	if err != nil {
		return nil, err
	}

	slog.Debug("fetched projects", "count", len(projects))
	return projects, nil
}

type alertPayload struct {
	DetectionDateStart string        `json:"detectionDateStart"`
	DetectionDateEnd   string        `json:"detectionDateEnd"`
	SourceID           string        `json:"sourceId"`
	Metadata           alertMetadata `json:"metadata"`
	Geometry           geometry      `json:"geometry"`
}

type alertMetadata struct {
	AlertType string `json:"alert_type"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// CreateAlert posts one detection alert to one project. Timestamps go out
// as ISO-8601 with millisecond precision; geometry is a GeoJSON point in
// [lng, lat] order.
func (c *Client) CreateAlert(ctx context.Context, creds models.Credentials, projectID string, coords models.Coordinates, draft models.AlertDraft) error {
	payload := alertPayload{
		DetectionDateStart: draft.DetectionStart.UTC().Format(isoMillis),
		DetectionDateEnd:   draft.DetectionEnd.UTC().Format(isoMillis),
		SourceID:           draft.SourceID,
		Metadata:           alertMetadata{AlertType: draft.AlertTag},
		Geometry: geometry{
			Type:        "Point",
			Coordinates: []float64{coords.Longitude, coords.Latitude},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding alert payload: %w", err)
	}

	url := fmt.Sprintf("%s/projects/%s/remoteDetectionAlerts", creds.ServerBase(), projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.BearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, readErrorMessage(resp.Body))
	}

	slog.Debug("created alert", "project", projectID, "tag", draft.AlertTag)
	return nil
}

// ListAlerts fetches existing alerts for each project in turn. A failing
// project becomes a warning rather than aborting the rest; the call only
// fails when every project failed. Alerts without point geometry are
// skipped.
func (c *Client) ListAlerts(ctx context.Context, creds models.Credentials, projects []models.Project) ([]models.AlertMarker, []string, error) {
	var (
		markers  []models.AlertMarker
		warnings []string
		lastErr  error
	)

	for _, p := range projects {
		url := fmt.Sprintf("%s/projects/%s/remoteDetectionAlerts", creds.ServerBase(), p.ProjectID)
		body, err := c.get(ctx, creds, url)
		if err == nil {
			var projectMarkers []models.AlertMarker
			projectMarkers, err = parseAlerts(body, p)
			if err == nil {
				markers = append(markers, projectMarkers...)
				continue
			}
		}

		lastErr = err
		warnings = append(warnings, fmt.Sprintf("project %s: %v", p.ProjectID, err))
		slog.Warn("failed to fetch alerts for project", "project", p.ProjectID, "error", err)
	}

	if len(projects) > 0 && len(warnings) == len(projects) {
		return nil, warnings, fmt.Errorf("fetching alerts failed for all %d projects: %w", len(projects), lastErr)
	}

	return markers, warnings, nil
}

func (c *Client) get(ctx context.Context, creds models.Credentials, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.BearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, readErrorMessage(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return body, nil
}

// readErrorMessage pulls a human-readable message out of an error response:
// a JSON {"message"} or {"error"} field when present, the raw body text
// otherwise.
func readErrorMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(body) == 0 {
		return ""
	}

	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	return strings.TrimSpace(string(body))
}
