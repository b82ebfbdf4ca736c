package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/mapalert/go-map-alert/internal/apiclient"
	"github.com/mapalert/go-map-alert/internal/models"
	"github.com/mapalert/go-map-alert/internal/store"
	"github.com/mapalert/go-map-alert/internal/submission"
)

// Step is the screen the user is on. The walk is strictly linear:
// authenticating → picking location → picking projects → composing alert,
// back to picking location after a submission lands.
type Step string

const (
	StepAuthenticating  Step = "authenticating"
	StepPickingLocation Step = "picking_location"
	StepPickingProjects Step = "picking_projects"
	StepComposingAlert  Step = "composing_alert"
)

var (
	ErrWrongStep          = errors.New("operation not allowed in current step")
	ErrNoCoordinates      = errors.New("coordinates not set")
	ErrNoSelection        = errors.New("no projects selected")
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
)

// APIClient is the slice of the alert client the session drives.
type APIClient interface {
	ListProjects(ctx context.Context, creds models.Credentials) ([]models.Project, error)
	CreateAlert(ctx context.Context, creds models.Credentials, projectID string, coords models.Coordinates, draft models.AlertDraft) error
}

// Session owns the flow state and everything accumulated along the walk.
// It is the only writer of credentials; handlers running on concurrent
// requests all funnel through its mutex.
type Session struct {
	client APIClient
	store  store.Store

	mu             sync.Mutex
	step           Step
	credentials    *models.Credentials
	projects       []models.Project
	coordinates    *models.Coordinates
	selected       []string
	activeProject  string
	defaultProject string
	submitting     bool
}

func New(client APIClient, st store.Store) *Session {
	return &Session{
		client: client,
		store:  st,
		step:   StepAuthenticating,
	}
}

// Login validates credentials by listing projects (there is no dedicated
// auth endpoint). On failure the session stays in the authenticating step
// and nothing is stored.
func (s *Session) Login(ctx context.Context, creds models.Credentials) error {
	if creds.ServerAddress == "" {
		return &models.ValidationError{Field: "serverAddress", Reason: "required"}
	}
	if creds.BearerToken == "" {
		return &models.ValidationError{Field: "bearerToken", Reason: "required"}
	}

	projects, err := s.client.ListProjects(ctx, creds)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.credentials = &creds
	s.projects = projects
	// A login starts a fresh run. Coordinates, selection and the active
	// project from a previous run must not leak into it; the default
	// project survives only when the new server knows it.
	s.coordinates = nil
	s.selected = nil
	s.activeProject = ""
	if s.defaultProject != "" && !containsProject(projects, s.defaultProject) {
		s.defaultProject = ""
	}
	s.step = StepPickingLocation
	s.mu.Unlock()

	if creds.Remember && s.store != nil {
		if err := s.store.SaveCredentials(ctx, creds); err != nil {
			slog.Warn("failed to persist credentials", "error", err)
		}
	}
	if s.store != nil {
		if last, err := s.store.LastProject(ctx); err != nil {
			slog.Warn("failed to load last project", "error", err)
		} else if last != "" && containsProject(projects, last) {
			s.mu.Lock()
			s.defaultProject = last
			s.mu.Unlock()
		}
	}

	slog.Info("logged in", "server", creds.ServerAddress, "projects", len(projects))
	return nil
}

// Restore tries to resume from remembered credentials. A stale token gets
// the persisted copy erased so the next start does not retry it.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	creds, err := s.store.LoadCredentials(ctx)
	if err != nil || creds == nil {
		return false, err
	}

	if err := s.Login(ctx, *creds); err != nil {
		if apiclient.IsAuthentication(err) {
			if delErr := s.store.DeleteCredentials(ctx); delErr != nil {
				slog.Warn("failed to erase stale credentials", "error", delErr)
			}
		}
		return false, err
	}
	return true, nil
}

// Logout clears credentials, projects, coordinates and the project
// selection, in that order, and erases the persisted credential copy.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.credentials = nil
	s.projects = nil
	s.coordinates = nil
	s.selected = nil
	s.activeProject = ""
	s.defaultProject = ""
	s.step = StepAuthenticating
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteCredentials(ctx); err != nil {
			return err
		}
	}

	slog.Info("logged out")
	return nil
}

// SetCoordinates overwrites the picked location. Values are replaced, never
// merged, whichever source produced them.
func (s *Session) SetCoordinates(coords models.Coordinates) error {
	if !coords.Valid() {
		return &models.ValidationError{Field: "coordinates", Reason: "latitude must be in [-90,90] and longitude in [-180,180]"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepPickingLocation {
		return ErrWrongStep
	}
	s.coordinates = &coords
	return nil
}

// SetActiveProject records the project highlighted on the map screen; it is
// pre-selected when the user moves on to project selection.
func (s *Session) SetActiveProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeProject = projectID
}

func (s *Session) ConfirmLocation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepPickingLocation {
		return ErrWrongStep
	}
	if s.coordinates == nil {
		return ErrNoCoordinates
	}

	s.step = StepPickingProjects
	if len(s.selected) == 0 {
		if pid := s.preselect(); pid != "" {
			s.selected = []string{pid}
		}
	}
	return nil
}

// preselect picks the project carried forward onto the selection screen:
// the one active when coordinates were chosen, else the default from the
// last successful submission. Must hold s.mu.
func (s *Session) preselect() string {
	for _, candidate := range []string{s.activeProject, s.defaultProject} {
		if candidate != "" && containsProject(s.projects, candidate) {
			return candidate
		}
	}
	return ""
}

func containsProject(projects []models.Project, id string) bool {
	return slices.ContainsFunc(projects, func(p models.Project) bool { return p.ProjectID == id })
}

// SelectProjects replaces the selection. Order is kept, duplicates are
// dropped, and every id must belong to a fetched project.
func (s *Session) SelectProjects(projectIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepPickingProjects {
		return ErrWrongStep
	}

	seen := make(map[string]bool, len(projectIDs))
	selected := make([]string, 0, len(projectIDs))
	for _, id := range projectIDs {
		if seen[id] {
			continue
		}
		if !containsProject(s.projects, id) {
			return &models.ValidationError{Field: "projects", Reason: "unknown project id " + id}
		}
		seen[id] = true
		selected = append(selected, id)
	}

	s.selected = selected
	return nil
}

func (s *Session) BeginCompose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != StepPickingProjects {
		return ErrWrongStep
	}
	if len(s.selected) == 0 {
		return ErrNoSelection
	}
	s.step = StepComposingAlert
	return nil
}

// Back steps to the previous screen. Nothing accumulated at later steps is
// cleared, so the user can resume where they were.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.step {
	case StepComposingAlert:
		s.step = StepPickingProjects
	case StepPickingProjects:
		s.step = StepPickingLocation
	default:
		return ErrWrongStep
	}
	return nil
}

// Submit runs the submission workflow for the current draft. Only one
// submission may be in flight; once started it runs to completion for all
// selected projects. Any success sends the flow back to the map with
// coordinates and selection cleared and the first successful project
// remembered as the next default.
func (s *Session) Submit(ctx context.Context, draft models.AlertDraft) ([]submission.Result, submission.Outcome, error) {
	s.mu.Lock()
	if s.step != StepComposingAlert {
		s.mu.Unlock()
		return nil, submission.OutcomeFailure, ErrWrongStep
	}
	if s.submitting {
		s.mu.Unlock()
		return nil, submission.OutcomeFailure, ErrSubmissionInFlight
	}
	if s.credentials == nil || s.coordinates == nil || len(s.selected) == 0 {
		// Transitions guard against this; reaching here means a logout
		// raced the submission.
		s.mu.Unlock()
		return nil, submission.OutcomeFailure, ErrWrongStep
	}
	creds := *s.credentials
	coords := *s.coordinates
	projectIDs := slices.Clone(s.selected)
	s.submitting = true
	s.mu.Unlock()

	results, outcome, err := submission.Run(ctx, s.client, creds, coords, draft, projectIDs)

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		s.mu.Unlock()
		return nil, outcome, err
	}

	var firstSuccess string
	for _, r := range results {
		if r.Success {
			firstSuccess = r.ProjectID
			break
		}
	}

	if firstSuccess != "" && s.step == StepComposingAlert {
		s.defaultProject = firstSuccess
		s.coordinates = nil
		s.selected = nil
		s.activeProject = ""
		s.step = StepPickingLocation
	}
	s.mu.Unlock()

	if firstSuccess != "" && s.store != nil {
		if err := s.store.SaveLastProject(ctx, firstSuccess); err != nil {
			slog.Warn("failed to persist last project", "error", err)
		}
	}

	return results, outcome, nil
}

// Credentials returns the logged-in credentials, if any.
func (s *Session) Credentials() (models.Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credentials == nil {
		return models.Credentials{}, false
	}
	return *s.credentials, true
}

// Projects returns the project list fetched at login.
func (s *Session) Projects() []models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.projects)
}

// State is a snapshot of the session for the frontend. The bearer token is
// deliberately absent.
type State struct {
	Step             Step                `json:"step"`
	ServerAddress    string              `json:"serverAddress,omitempty"`
	Projects         []models.Project    `json:"projects"`
	Coordinates      *models.Coordinates `json:"coordinates,omitempty"`
	SelectedProjects []string            `json:"selectedProjects"`
	ActiveProject    string              `json:"activeProject,omitempty"`
	DefaultProject   string              `json:"defaultProject,omitempty"`
	Submitting       bool                `json:"submitting"`
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{
		Step:             s.step,
		Projects:         slices.Clone(s.projects),
		SelectedProjects: slices.Clone(s.selected),
		ActiveProject:    s.activeProject,
		DefaultProject:   s.defaultProject,
		Submitting:       s.submitting,
	}
	if s.credentials != nil {
		state.ServerAddress = s.credentials.ServerAddress
	}
	if s.coordinates != nil {
		coords := *s.coordinates
		state.Coordinates = &coords
	}
	return state
}
