package models

import (
	"regexp"
	"time"
)

// Alert tags follow slug grammar: lowercase alphanumerics with single
// hyphens between groups (e.g. "fire-detection").
var alertTagRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

func IsValidAlertTag(s string) bool {
	return alertTagRe.MatchString(s)
}

// AlertDraft holds the alert form fields before submission. SourceID is
// free-form; it usually looks like a UUID but is not validated as one.
type AlertDraft struct {
	DetectionStart time.Time `json:"detectionStart"`
	DetectionEnd   time.Time `json:"detectionEnd"`
	SourceID       string    `json:"sourceId"`
	AlertTag       string    `json:"alertTag"`
}

// AlertMarker is an existing alert fetched from the server, reduced to what
// the map needs: a labelled point plus the detail fields shown on tap.
type AlertMarker struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	ProjectID      string      `json:"projectId"`
	ProjectName    string      `json:"projectName"`
	Coordinates    Coordinates `json:"coordinates"`
	DetectionStart string      `json:"detectionDateStart"`
	DetectionEnd   string      `json:"detectionDateEnd"`
	SourceID       string      `json:"sourceId"`
}
