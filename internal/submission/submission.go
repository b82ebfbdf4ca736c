package submission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mapalert/go-map-alert/internal/models"
)

type Outcome string

const (
	// OutcomeSuccess: every targeted project accepted the alert.
	OutcomeSuccess Outcome = "success"
	// OutcomePartial: some projects accepted, some failed. This is a valid
	// workflow result, not an error.
	OutcomePartial Outcome = "partial"
	// OutcomeFailure: no project accepted the alert.
	OutcomeFailure Outcome = "failure"
)

// Result records one create attempt against one project.
type Result struct {
	ProjectID   string `json:"projectId"`
	Success     bool   `json:"success"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

// AlertCreator is the single API client call the workflow needs.
type AlertCreator interface {
	CreateAlert(ctx context.Context, creds models.Credentials, projectID string, coords models.Coordinates, draft models.AlertDraft) error
}

// Run submits the draft to each selected project in order, one at a time.
// Per-project failures are recorded and the loop continues; there is no
// cancellation once the loop has started. Validation failures abort before
// the first request.
func Run(ctx context.Context, client AlertCreator, creds models.Credentials, coords models.Coordinates, draft models.AlertDraft, projectIDs []string) ([]Result, Outcome, error) {
	if err := validate(draft, projectIDs); err != nil {
		return nil, OutcomeFailure, err
	}

	submissionID := uuid.NewString()
	slog.Info("starting alert submission",
		"submission", submissionID,
		"projects", len(projectIDs),
		"tag", draft.AlertTag)

	results := make([]Result, 0, len(projectIDs))
	successCount := 0

	for _, projectID := range projectIDs {
		if err := client.CreateAlert(ctx, creds, projectID, coords, draft); err != nil {
			slog.Warn("alert creation failed",
				"submission", submissionID,
				"project", projectID,
				"error", err)
			results = append(results, Result{
				ProjectID:   projectID,
				Success:     false,
				ErrorDetail: err.Error(),
			})
			continue
		}

		slog.Info("alert created", "submission", submissionID, "project", projectID)
		results = append(results, Result{ProjectID: projectID, Success: true})
		successCount++
	}

	outcome := OutcomeFailure
	switch {
	case successCount == len(projectIDs):
		outcome = OutcomeSuccess
	case successCount > 0:
		outcome = OutcomePartial
	}

	slog.Info("alert submission finished",
		"submission", submissionID,
		"outcome", outcome,
		"succeeded", successCount,
		"failed", len(projectIDs)-successCount)

	return results, outcome, nil
}

// Message renders the user-facing summary for an outcome, reporting both
// counts on a partial result.
func Message(outcome Outcome, results []Result) string {
	successCount := 0
	for _, r := range results {
		if r.Success {
			successCount++
		}
	}
	switch outcome {
	case OutcomeSuccess:
		return fmt.Sprintf("created %d alert(s)", successCount)
	case OutcomePartial:
		return fmt.Sprintf("created %d alert(s), %d failed", successCount, len(results)-successCount)
	default:
		return fmt.Sprintf("failed to create %d alert(s)", len(results))
	}
}

func validate(draft models.AlertDraft, projectIDs []string) error {
	if len(projectIDs) == 0 {
		return &models.ValidationError{Field: "projects", Reason: "no projects selected"}
	}
	if draft.DetectionStart.IsZero() {
		return &models.ValidationError{Field: "detectionStart", Reason: "required"}
	}
	if draft.DetectionEnd.IsZero() {
		return &models.ValidationError{Field: "detectionEnd", Reason: "required"}
	}
	if draft.SourceID == "" {
		return &models.ValidationError{Field: "sourceId", Reason: "required"}
	}
	if draft.AlertTag == "" {
		return &models.ValidationError{Field: "alertTag", Reason: "required"}
	}
	if !models.IsValidAlertTag(draft.AlertTag) {
		return &models.ValidationError{Field: "alertTag", Reason: "must be slug format (lowercase letters, numbers and hyphens)"}
	}
	if !draft.DetectionEnd.After(draft.DetectionStart) {
		return &models.ValidationError{Field: "detectionEnd", Reason: "must be after detection start"}
	}
	return nil
}
