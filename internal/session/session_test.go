package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mapalert/go-map-alert/internal/apiclient"
	"github.com/mapalert/go-map-alert/internal/models"
	"github.com/mapalert/go-map-alert/internal/submission"
)

type createCall struct {
	projectID string
	coords    models.Coordinates
	draft     models.AlertDraft
}

// mockClient implements APIClient
type mockClient struct {
	mu          sync.Mutex
	projects    []models.Project
	listErr     error
	createErrs  map[string]error
	createCalls []createCall
	blockCreate chan struct{}
}

func (m *mockClient) ListProjects(ctx context.Context, creds models.Credentials) ([]models.Project, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.projects, nil
}

func (m *mockClient) CreateAlert(ctx context.Context, creds models.Credentials, projectID string, coords models.Coordinates, draft models.AlertDraft) error {
	if m.blockCreate != nil {
		<-m.blockCreate
	}
	m.mu.Lock()
	m.createCalls = append(m.createCalls, createCall{projectID, coords, draft})
	m.mu.Unlock()
	if err, ok := m.createErrs[projectID]; ok {
		return err
	}
	return nil
}

// mockStore implements store.Store
type mockStore struct {
	creds       *models.Credentials
	lastProject string
	searches    []string
}

func (m *mockStore) SaveCredentials(ctx context.Context, creds models.Credentials) error {
	m.creds = &creds
	return nil
}

func (m *mockStore) LoadCredentials(ctx context.Context) (*models.Credentials, error) {
	return m.creds, nil
}

func (m *mockStore) DeleteCredentials(ctx context.Context) error {
	m.creds = nil
	return nil
}

func (m *mockStore) SaveLastProject(ctx context.Context, projectID string) error {
	m.lastProject = projectID
	return nil
}

func (m *mockStore) LastProject(ctx context.Context) (string, error) {
	return m.lastProject, nil
}

func (m *mockStore) AddRecentSearch(ctx context.Context, query string) error {
	m.searches = append(m.searches, query)
	return nil
}

func (m *mockStore) RecentSearches(ctx context.Context) ([]string, error) {
	return m.searches, nil
}

func twoProjects() []models.Project {
	return []models.Project{
		{ProjectID: "proj-a", Name: "Project A"},
		{ProjectID: "proj-b", Name: "Project B"},
	}
}

func testCredentials() models.Credentials {
	return models.Credentials{ServerAddress: "alerts.example.com", BearerToken: "tok"}
}

func loggedInSession(t *testing.T, client *mockClient, st *mockStore) *Session {
	t.Helper()
	// A nil *mockStore must become a nil interface, not a typed nil
	var s *Session
	if st == nil {
		s = New(client, nil)
	} else {
		s = New(client, st)
	}
	if err := s.Login(context.Background(), testCredentials()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return s
}

func validDraft() models.AlertDraft {
	return models.AlertDraft{
		DetectionStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		DetectionEnd:   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		SourceID:       "abc-123",
		AlertTag:       "fire-detection",
	}
}

func TestLogin_AdvancesToLocationStep(t *testing.T) {
	client := &mockClient{projects: twoProjects()}
	st := &mockStore{}
	s := loggedInSession(t, client, st)

	state := s.State()
	if state.Step != StepPickingLocation {
		t.Errorf("expected picking_location, got %s", state.Step)
	}
	if len(state.Projects) != 2 {
		t.Errorf("expected 2 projects, got %d", len(state.Projects))
	}
	if st.creds != nil {
		t.Error("credentials without remember should not be persisted")
	}
}

func TestLogin_RememberPersistsCredentials(t *testing.T) {
	client := &mockClient{projects: twoProjects()}
	st := &mockStore{}
	s := New(client, st)

	creds := testCredentials()
	creds.Remember = true
	if err := s.Login(context.Background(), creds); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if st.creds == nil || st.creds.BearerToken != "tok" {
		t.Errorf("expected credentials persisted, got %+v", st.creds)
	}
}

func errAuth401() error {
	return &apiclient.APIError{Kind: apiclient.ErrAuthentication, StatusCode: 401, Message: "invalid token"}
}

func TestLogin_AuthFailureStaysAuthenticating(t *testing.T) {
	client := &mockClient{listErr: errAuth401()}
	st := &mockStore{}
	s := New(client, st)

	creds := testCredentials()
	creds.Remember = true
	err := s.Login(context.Background(), creds)
	if err == nil {
		t.Fatal("expected login error")
	}
	if !apiclient.IsAuthentication(err) {
		t.Errorf("expected authentication error, got %v", err)
	}
	if s.State().Step != StepAuthenticating {
		t.Errorf("expected authenticating, got %s", s.State().Step)
	}
	if st.creds != nil {
		t.Error("credentials must not be persisted on auth failure")
	}
}

func TestLogin_EmptyFieldsAreValidationErrors(t *testing.T) {
	s := New(&mockClient{}, nil)

	var vErr *models.ValidationError
	err := s.Login(context.Background(), models.Credentials{BearerToken: "tok"})
	if !errors.As(err, &vErr) || vErr.Field != "serverAddress" {
		t.Errorf("expected serverAddress validation error, got %v", err)
	}
	err = s.Login(context.Background(), models.Credentials{ServerAddress: "x"})
	if !errors.As(err, &vErr) || vErr.Field != "bearerToken" {
		t.Errorf("expected bearerToken validation error, got %v", err)
	}
}

func TestLogin_AgainStartsFreshRun(t *testing.T) {
	client := &mockClient{projects: twoProjects()}
	s := loggedInSession(t, client, nil)
	ctx := context.Background()

	// First run: submit once so proj-a becomes the default, then walk back
	// into the middle of a second pass.
	if err := s.SetCoordinates(models.NewCoordinates(1, 1, models.SourceManualEntry)); err != nil {
		t.Fatalf("SetCoordinates failed: %v", err)
	}
	if err := s.ConfirmLocation(); err != nil {
		t.Fatalf("ConfirmLocation failed: %v", err)
	}
	if err := s.SelectProjects([]string{"proj-a"}); err != nil {
		t.Fatalf("SelectProjects failed: %v", err)
	}
	if err := s.BeginCompose(); err != nil {
		t.Fatalf("BeginCompose failed: %v", err)
	}
	if _, _, err := s.Submit(ctx, validDraft()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := s.SetCoordinates(models.NewCoordinates(2, 2, models.SourceManualEntry)); err != nil {
		t.Fatalf("SetCoordinates failed: %v", err)
	}
	if err := s.ConfirmLocation(); err != nil {
		t.Fatalf("ConfirmLocation failed: %v", err)
	}
	if err := s.SelectProjects([]string{"proj-a"}); err != nil {
		t.Fatalf("SelectProjects failed: %v", err)
	}
	if err := s.BeginCompose(); err != nil {
		t.Fatalf("BeginCompose failed: %v", err)
	}

	// Re-login against a server that knows none of the old projects
	client.projects = []models.Project{{ProjectID: "other-1", Name: "Other"}}
	if err := s.Login(ctx, models.Credentials{ServerAddress: "b.example.com", BearerToken: "tok2"}); err != nil {
		t.Fatalf("second Login failed: %v", err)
	}

	state := s.State()
	if state.Step != StepPickingLocation {
		t.Errorf("expected picking_location after re-login, got %s", state.Step)
	}
	if state.Coordinates != nil {
		t.Errorf("stale coordinates survived re-login: %+v", state.Coordinates)
	}
	if len(state.SelectedProjects) != 0 {
		t.Errorf("stale selection survived re-login: %v", state.SelectedProjects)
	}
	if state.ActiveProject != "" {
		t.Errorf("stale active project survived re-login: %q", state.ActiveProject)
	}
	if state.DefaultProject != "" {
		t.Errorf("default project unknown to the new server was kept: %q", state.DefaultProject)
	}

	// The old selection must not be submittable against the new server
	calls := len(client.createCalls)
	if _, _, err := s.Submit(ctx, validDraft()); !errors.Is(err, ErrWrongStep) {
		t.Errorf("expected ErrWrongStep, got %v", err)
	}
	if len(client.createCalls) != calls {
		t.Errorf("re-login allowed a submission against stale projects")
	}
}

func TestLogin_AgainKeepsDefaultKnownToNewServer(t *testing.T) {
	client := &mockClient{projects: twoProjects()}
	s := loggedInSession(t, client, nil)
	ctx := context.Background()

	s.SetCoordinates(models.NewCoordinates(1, 1, models.SourceManualEntry))
	s.ConfirmLocation()
	s.SelectProjects([]string{"proj-b"})
	s.BeginCompose()
	if _, _, err := s.Submit(ctx, validDraft()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := s.Login(ctx, models.Credentials{ServerAddress: "b.example.com", BearerToken: "tok2"}); err != nil {
		t.Fatalf("second Login failed: %v", err)
	}
	if state := s.State(); state.DefaultProject != "proj-b" {
		t.Errorf("expected default proj-b kept across re-login, got %q", state.DefaultProject)
	}
}

func TestSetCoordinates_GuardsStepAndRange(t *testing.T) {
	s := New(&mockClient{projects: twoProjects()}, nil)

	err := s.SetCoordinates(models.Coordinates{Latitude: 1, Longitude: 1})
	if !errors.Is(err, ErrWrongStep) {
		t.Errorf("expected ErrWrongStep before login, got %v", err)
	}

	if err := s.Login(context.Background(), testCredentials()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var vErr *models.ValidationError
	err = s.SetCoordinates(models.Coordinates{Latitude: 91, Longitude: 0})
	if !errors.As(err, &vErr) {
		t.Errorf("expected validation error for out-of-range latitude, got %v", err)
	}

	if err := s.SetCoordinates(models.Coordinates{Latitude: 51.5, Longitude: -0.1}); err != nil {
		t.Fatalf("SetCoordinates failed: %v", err)
	}

	// New value overwrites the old one
	if err := s.SetCoordinates(models.Coordinates{Latitude: 48.8, Longitude: 2.3}); err != nil {
		t.Fatalf("SetCoordinates failed: %v", err)
	}
	state := s.State()
	if state.Coordinates.Latitude != 48.8 {
		t.Errorf("expected overwritten coordinates, got %+v", state.Coordinates)
	}
}

func TestConfirmLocation_RequiresCoordinates(t *testing.T) {
	s := loggedInSession(t, &mockClient{projects: twoProjects()}, nil)

	if err := s.ConfirmLocation(); !errors.Is(err, ErrNoCoordinates) {
		t.Errorf("expected ErrNoCoordinates, got %v", err)
	}

	s.SetCoordinates(models.Coordinates{Latitude: 1, Longitude: 1})
	if err := s.ConfirmLocation(); err != nil {
		t.Fatalf("ConfirmLocation failed: %v", err)
	}
	if s.State().Step != StepPickingProjects {
		t.Errorf("expected picking_projects, got %s", s.State().Step)
	}
}

func TestConfirmLocation_PreselectsActiveProject(t *testing.T) {
	s := loggedInSession(t, &mockClient{projects: twoProjects()}, nil)

	s.SetActiveProject("proj-b")
	s.SetCoordinates(models.Coordinates{Latitude: 1, Longitude: 1})
	if err := s.ConfirmLocation(); err != nil {
		t.Fatalf("ConfirmLocation failed: %v", err)
	}

	state := s.State()
	if len(state.SelectedProjects) != 1 || state.SelectedProjects[0] != "proj-b" {
		t.Errorf("expected proj-b preselected, got %v", state.SelectedProjects)
	}
}

func TestSelectProjects_DedupAndValidate(t *testing.T) {
	s := loggedInSession(t, &mockClient{projects: twoProjects()}, nil)
	s.SetCoordinates(models.Coordinates{Latitude: 1, Longitude: 1})
	s.ConfirmLocation()

	if err := s.SelectProjects([]string{"proj-a", "proj-b", "proj-a"}); err != nil {
		t.Fatalf("SelectProjects failed: %v", err)
	}
	state := s.State()
	if len(state.SelectedProjects) != 2 {
		t.Errorf("expected duplicates dropped, got %v", state.SelectedProjects)
	}

	var vErr *models.ValidationError
	if err := s.SelectProjects([]string{"nope"}); !errors.As(err, &vErr) {
		t.Errorf("expected validation error for unknown project, got %v", err)
	}
}

func TestBeginCompose_RequiresSelection(t *testing.T) {
	s := loggedInSession(t, &mockClient{projects: twoProjects()}, nil)
	s.SetCoordinates(models.Coordinates{Latitude: 1, Longitude: 1})
	s.ConfirmLocation()
	s.SelectProjects(nil)

	if err := s.BeginCompose(); !errors.Is(err, ErrNoSelection) {
		t.Errorf("expected ErrNoSelection, got %v", err)
	}

	s.SelectProjects([]string{"proj-a"})
	if err := s.BeginCompose(); err != nil {
		t.Fatalf("BeginCompose failed: %v", err)
	}
	if s.State().Step != StepComposingAlert {
		t.Errorf("expected composing_alert, got %s", s.State().Step)
	}
}

func TestBack_PreservesState(t *testing.T) {
	s := loggedInSession(t, &mockClient{projects: twoProjects()}, nil)
	s.SetCoordinates(models.Coordinates{Latitude: 51.5, Longitude: -0.1})
	s.ConfirmLocation()
	s.SelectProjects([]string{"proj-a", "proj-b"})
	s.BeginCompose()

	if err := s.Back(); err != nil {
		t.Fatalf("Back failed: %v", err)
	}
	state := s.State()
	if state.Step != StepPickingProjects {
		t.Errorf("expected picking_projects, got %s", state.Step)
	}
	if len(state.SelectedProjects) != 2 {
		t.Errorf("expected selection preserved, got %v", state.SelectedProjects)
	}

	if err := s.Back(); err != nil {
		t.Fatalf("Back failed: %v", err)
	}
	state = s.State()
	if state.Step != StepPickingLocation {
		t.Errorf("expected picking_location, got %s", state.Step)
	}
	if state.Coordinates == nil || state.Coordinates.Latitude != 51.5 {
		t.Errorf("expected coordinates preserved, got %+v", state.Coordinates)
	}
	// Forward state is retained for resuming
	if len(state.SelectedProjects) != 2 {
		t.Errorf("expected selection retained, got %v", state.SelectedProjects)
	}
}

func TestSubmit_SuccessScenario(t *testing.T) {
	client := &mockClient{projects: twoProjects()}
	st := &mockStore{}
	s := loggedInSession(t, client, st)

	s.SetCoordinates(models.Coordinates{Latitude: 51.5074, Longitude: -0.1278})
	s.ConfirmLocation()
	s.SelectProjects([]string{"proj-a", "proj-b"})
	s.BeginCompose()

	results, outcome, err := s.Submit(context.Background(), validDraft())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if outcome != submission.OutcomeSuccess {
		t.Errorf("expected success, got %s", outcome)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	if len(client.createCalls) != 2 {
		t.Fatalf("expected 2 create calls, got %d", len(client.createCalls))
	}
	for _, call := range client.createCalls {
		if call.coords.Latitude != 51.5074 || call.coords.Longitude != -0.1278 {
			t.Errorf("unexpected coordinates in call: %+v", call.coords)
		}
	}

	state := s.State()
	if state.Step != StepPickingLocation {
		t.Errorf("expected flow back at picking_location, got %s", state.Step)
	}
	if state.Coordinates != nil || len(state.SelectedProjects) != 0 {
		t.Errorf("expected coordinates and selection cleared, got %+v / %v", state.Coordinates, state.SelectedProjects)
	}
	if state.DefaultProject != "proj-a" {
		t.Errorf("expected proj-a remembered as default, got %q", state.DefaultProject)
	}
	if st.lastProject != "proj-a" {
		t.Errorf("expected last project persisted, got %q", st.lastProject)
	}
}

func TestSubmit_AllFailedStaysComposing(t *testing.T) {
	client := &mockClient{
		projects: twoProjects(),
		createErrs: map[string]error{
			"proj-a": errors.New("boom"),
			"proj-b": errors.New("boom"),
		},
	}
	s := loggedInSession(t, client, nil)
	s.SetCoordinates(models.Coordinates{Latitude: 1, Longitude: 1})
	s.ConfirmLocation()
	s.SelectProjects([]string{"proj-a", "proj-b"})
	s.BeginCompose()

	_, outcome, err := s.Submit(context.Background(), validDraft())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if outcome != submission.OutcomeFailure {
		t.Errorf("expected failure, got %s", outcome)
	}

	state := s.State()
	if state.Step != StepComposingAlert {
		t.Errorf("expected to remain composing for a retry, got %s", state.Step)
	}
	if len(state.SelectedProjects) != 2 {
		t.Errorf("expected selection retained, got %v", state.SelectedProjects)
	}
}

func TestSubmit_ValidationErrorKeepsState(t *testing.T) {
	client := &mockClient{projects: twoProjects()}
	s := loggedInSession(t, client, nil)
	s.SetCoordinates(models.Coordinates{Latitude: 1, Longitude: 1})
	s.ConfirmLocation()
	s.SelectProjects([]string{"proj-a"})
	s.BeginCompose()

	draft := validDraft()
	draft.AlertTag = "Not A Slug"
	_, _, err := s.Submit(context.Background(), draft)

	var vErr *models.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(client.createCalls) != 0 {
		t.Errorf("expected zero create calls, got %d", len(client.createCalls))
	}
	if s.State().Step != StepComposingAlert {
		t.Errorf("expected to remain composing, got %s", s.State().Step)
	}
}

func TestSubmit_RejectsConcurrentSubmission(t *testing.T) {
	client := &mockClient{projects: twoProjects(), blockCreate: make(chan struct{})}
	s := loggedInSession(t, client, nil)
	s.SetCoordinates(models.Coordinates{Latitude: 1, Longitude: 1})
	s.ConfirmLocation()
	s.SelectProjects([]string{"proj-a"})
	s.BeginCompose()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Submit(context.Background(), validDraft())
	}()

	// Wait until the first submission is marked in flight
	for i := 0; i < 100; i++ {
		if s.State().Submitting {
			break
		}
		time.Sleep(time.Millisecond)
	}

	_, _, err := s.Submit(context.Background(), validDraft())
	if !errors.Is(err, ErrSubmissionInFlight) {
		t.Errorf("expected ErrSubmissionInFlight, got %v", err)
	}

	close(client.blockCreate)
	<-done
}

func TestLogout_ClearsEverything(t *testing.T) {
	client := &mockClient{projects: twoProjects()}
	st := &mockStore{}
	s := New(client, st)

	creds := testCredentials()
	creds.Remember = true
	s.Login(context.Background(), creds)
	s.SetCoordinates(models.Coordinates{Latitude: 1, Longitude: 1})
	s.ConfirmLocation()
	s.SelectProjects([]string{"proj-a"})
	s.BeginCompose()

	if err := s.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	state := s.State()
	if state.Step != StepAuthenticating {
		t.Errorf("expected authenticating, got %s", state.Step)
	}
	if state.ServerAddress != "" || len(state.Projects) != 0 || state.Coordinates != nil || len(state.SelectedProjects) != 0 {
		t.Errorf("expected all state cleared, got %+v", state)
	}
	if _, ok := s.Credentials(); ok {
		t.Error("expected credentials cleared")
	}
	if st.creds != nil {
		t.Error("expected persisted credentials erased")
	}
}

func TestRestore_ResumesFromStoredCredentials(t *testing.T) {
	client := &mockClient{projects: twoProjects()}
	st := &mockStore{creds: &models.Credentials{ServerAddress: "alerts.example.com", BearerToken: "tok", Remember: true}}
	s := New(client, st)

	restored, err := s.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !restored {
		t.Fatal("expected session restored")
	}
	if s.State().Step != StepPickingLocation {
		t.Errorf("expected picking_location, got %s", s.State().Step)
	}
}

func TestRestore_StaleTokenErasesStoredCredentials(t *testing.T) {
	client := &mockClient{listErr: errAuth401()}
	st := &mockStore{creds: &models.Credentials{ServerAddress: "alerts.example.com", BearerToken: "stale", Remember: true}}
	s := New(client, st)

	restored, err := s.Restore(context.Background())
	if restored || err == nil {
		t.Fatalf("expected failed restore, got restored=%v err=%v", restored, err)
	}
	if st.creds != nil {
		t.Error("expected stale credentials erased")
	}
	if s.State().Step != StepAuthenticating {
		t.Errorf("expected authenticating, got %s", s.State().Step)
	}
}
