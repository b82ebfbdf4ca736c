package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mapalert/go-map-alert/internal/apiclient"
	"github.com/mapalert/go-map-alert/internal/geocode"
	"github.com/mapalert/go-map-alert/internal/models"
	"github.com/mapalert/go-map-alert/internal/notify"
	"github.com/mapalert/go-map-alert/internal/session"
	"github.com/mapalert/go-map-alert/internal/store"
	"github.com/mapalert/go-map-alert/internal/submission"
)

// MarkerCache is the slice of the marker refresher the handlers use.
type MarkerCache interface {
	Markers() []models.AlertMarker
	RequestRefresh()
	Clear()
}

type Handler struct {
	session     *session.Session
	markers     MarkerCache
	store       store.Store
	geocoder    geocode.Geocoder
	broadcaster *notify.Broadcaster
}

func NewHandler(sess *session.Session, cache MarkerCache, st store.Store, geo geocode.Geocoder, broadcaster *notify.Broadcaster) *Handler {
	return &Handler{
		session:     sess,
		markers:     cache,
		store:       st,
		geocoder:    geo,
		broadcaster: broadcaster,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	api := r.Group("/api")
	api.POST("/session/login", h.login)
	api.POST("/session/logout", h.logout)
	api.GET("/session", h.getSession)
	api.PUT("/location", h.setLocation)
	api.POST("/location/confirm", h.confirmLocation)
	api.PUT("/projects/active", h.setActiveProject)
	api.PUT("/projects/selection", h.selectProjects)
	api.POST("/projects/confirm", h.confirmProjects)
	api.POST("/steps/back", h.back)
	api.POST("/alerts", h.submitAlert)
	api.GET("/markers", h.getMarkers)
	api.GET("/search", h.search)
	api.GET("/search/recent", h.recentSearches)
	api.GET("/events", h.events)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type loginRequest struct {
	ServerAddress string `json:"serverAddress"`
	BearerToken   string `json:"bearerToken"`
	Remember      bool   `json:"remember"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	creds := models.Credentials{
		ServerAddress: req.ServerAddress,
		BearerToken:   req.BearerToken,
		Remember:      req.Remember,
	}
	if err := h.session.Login(c.Request.Context(), creds); err != nil {
		writeError(c, err)
		return
	}

	h.markers.RequestRefresh()
	c.JSON(http.StatusOK, h.session.State())
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.session.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.markers.Clear()
	c.JSON(http.StatusOK, h.session.State())
}

func (h *Handler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.State())
}

type locationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Source    string  `json:"source"`
}

func (h *Handler) setLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	source := models.CoordinateSource(req.Source)
	switch source {
	case models.SourceMapClick, models.SourceManualEntry, models.SourceSearch:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid coordinate source", "field": "source"})
		return
	}

	coords := models.NewCoordinates(req.Latitude, req.Longitude, source)
	if err := h.session.SetCoordinates(coords); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.State())
}

func (h *Handler) confirmLocation(c *gin.Context) {
	if err := h.session.ConfirmLocation(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.State())
}

type activeProjectRequest struct {
	ProjectID string `json:"projectId"`
}

func (h *Handler) setActiveProject(c *gin.Context) {
	var req activeProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.session.SetActiveProject(req.ProjectID)
	c.JSON(http.StatusOK, h.session.State())
}

type selectionRequest struct {
	ProjectIDs []string `json:"projectIds"`
}

func (h *Handler) selectProjects(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.session.SelectProjects(req.ProjectIDs); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.State())
}

func (h *Handler) confirmProjects(c *gin.Context) {
	if err := h.session.BeginCompose(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.State())
}

func (h *Handler) back(c *gin.Context) {
	if err := h.session.Back(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.State())
}

func (h *Handler) submitAlert(c *gin.Context) {
	var draft models.AlertDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	results, outcome, err := h.session.Submit(c.Request.Context(), draft)
	if err != nil {
		writeError(c, err)
		return
	}

	if outcome != submission.OutcomeFailure {
		h.markers.RequestRefresh()
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"outcome": outcome,
		"message": submission.Message(outcome, results),
	})
}

func (h *Handler) getMarkers(c *gin.Context) {
	fc := toGeoJSON(h.markers.Markers())
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}

	results, err := h.geocoder.Search(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	if len(results) > 0 && h.store != nil {
		if err := h.store.AddRecentSearch(c.Request.Context(), query); err != nil {
			slog.Warn("failed to record recent search", "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) recentSearches(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"searches": []string{}})
		return
	}
	searches, err := h.store.RecentSearches(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load recent searches"})
		return
	}
	if searches == nil {
		searches = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"searches": searches})
}

// events streams session events (marker refreshes, logout) as SSE until the
// client disconnects or the broadcaster shuts down.
func (h *Handler) events(c *gin.Context) {
	id, ch := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(id)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(e.Type, e)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// writeError maps domain errors onto HTTP statuses: validation to 400, step
// and in-flight conflicts to 409, upstream auth to 401, upstream
// network/server trouble to 502.
func writeError(c *gin.Context, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
		return
	}

	var aerr *apiclient.APIError
	if errors.As(err, &aerr) {
		status := http.StatusBadGateway
		if aerr.Kind == apiclient.ErrAuthentication {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": aerr.Error(), "kind": string(aerr.Kind)})
		return
	}

	switch {
	case errors.Is(err, session.ErrWrongStep), errors.Is(err, session.ErrSubmissionInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNoCoordinates), errors.Is(err, session.ErrNoSelection):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
