package markers

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mapalert/go-map-alert/internal/models"
	"github.com/mapalert/go-map-alert/internal/notify"
	"github.com/mapalert/go-map-alert/internal/worker"
)

// AlertLister is the API client call the refresher needs.
type AlertLister interface {
	ListAlerts(ctx context.Context, creds models.Credentials, projects []models.Project) ([]models.AlertMarker, []string, error)
}

// SessionInfo is the read-only slice of the session the refresher consults.
type SessionInfo interface {
	Credentials() (models.Credentials, bool)
	Projects() []models.Project
}

// Refresher keeps the map's marker set current: it refetches alerts on an
// interval and on demand after a submission lands. Fetches go through a
// single-worker pool so they never interleave; redundant requests coalesce
// in the pool buffer.
type Refresher struct {
	client      AlertLister
	session     SessionInfo
	broadcaster *notify.Broadcaster
	interval    time.Duration
	pool        *worker.Pool
	wg          sync.WaitGroup

	mu      sync.RWMutex
	markers []models.AlertMarker
}

func NewRefresher(client AlertLister, session SessionInfo, broadcaster *notify.Broadcaster, interval time.Duration) *Refresher {
	return &Refresher{
		client:      client,
		session:     session,
		broadcaster: broadcaster,
		interval:    interval,
	}
}

func (r *Refresher) Start(ctx context.Context) {
	handler := func(ctx context.Context, task worker.Task) error {
		r.refresh(ctx)
		return nil
	}
	r.pool = worker.NewPool(1, 1, handler)
	r.pool.Start(ctx)

	r.wg.Add(1)
	go r.run(ctx)
}

func (r *Refresher) run(ctx context.Context) {
	defer r.wg.Done()
	slog.Info("starting marker refresher", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Initial refresh
	r.pool.TrySubmit(struct{}{})

	for {
		select {
		case <-ctx.Done():
			slog.Info("marker refresher shutting down")
			return
		case <-ticker.C:
			r.pool.TrySubmit(struct{}{})
		}
	}
}

// RequestRefresh asks for an immediate refetch. It never blocks; when a
// refresh is already queued the request folds into it.
func (r *Refresher) RequestRefresh() {
	if r.pool != nil {
		r.pool.TrySubmit(struct{}{})
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	creds, ok := r.session.Credentials()
	if !ok {
		return
	}
	projects := r.session.Projects()
	if len(projects) == 0 {
		return
	}

	markers, warnings, err := r.client.ListAlerts(ctx, creds, projects)
	if err != nil {
		slog.Error("marker refresh failed", "error", err)
		return
	}
	for _, w := range warnings {
		slog.Warn("marker refresh warning", "warning", w)
	}

	r.mu.Lock()
	r.markers = markers
	r.mu.Unlock()

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(notify.Event{
			Type:        notify.EventMarkersRefreshed,
			MarkerCount: len(markers),
		})
	}

	slog.Debug("markers refreshed", "count", len(markers))
}

// Markers returns the full current marker set; each refresh replaces it
// wholesale.
func (r *Refresher) Markers() []models.AlertMarker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.markers)
}

// Clear drops cached markers, for logout.
func (r *Refresher) Clear() {
	r.mu.Lock()
	r.markers = nil
	r.mu.Unlock()

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(notify.Event{Type: notify.EventLoggedOut})
	}
}

func (r *Refresher) Stop() {
	r.wg.Wait()
	if r.pool != nil {
		r.pool.Stop()
	}
	slog.Info("marker refresher stopped")
}
