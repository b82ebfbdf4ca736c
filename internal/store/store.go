package store

import (
	"context"

	"github.com/mapalert/go-map-alert/internal/models"
)

// recentSearchLimit caps how many free-text search queries are remembered.
const recentSearchLimit = 3

// Store is the durable side of the session: remembered credentials, the
// last project an alert was filed under, and recent location searches.
// Credentials are written only on login-with-remember and erased on logout.
type Store interface {
	SaveCredentials(ctx context.Context, creds models.Credentials) error
	// LoadCredentials returns nil when no credentials were remembered.
	LoadCredentials(ctx context.Context) (*models.Credentials, error)
	DeleteCredentials(ctx context.Context) error

	SaveLastProject(ctx context.Context, projectID string) error
	LastProject(ctx context.Context) (string, error)

	AddRecentSearch(ctx context.Context, query string) error
	// RecentSearches returns up to 3 queries, most recent first, deduplicated.
	RecentSearches(ctx context.Context) ([]string, error)
}
