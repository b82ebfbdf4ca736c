package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mapalert/go-map-alert/internal/models"
)

// Fixed application key for the single remembered credential set.
const credentialsKey = "map-alert"

const lastProjectKey = "last_project_id"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteStore{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credentials (
			key TEXT PRIMARY KEY,
			server_address TEXT NOT NULL,
			bearer_token TEXT NOT NULL,
			saved_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS recent_searches (
			query TEXT PRIMARY KEY,
			searched_at DATETIME NOT NULL
		);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveCredentials(ctx context.Context, creds models.Credentials) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (key, server_address, bearer_token, saved_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET server_address = excluded.server_address,
		 	bearer_token = excluded.bearer_token, saved_at = excluded.saved_at`,
		credentialsKey, creds.ServerAddress, creds.BearerToken, time.Now())
	if err != nil {
		return fmt.Errorf("error saving credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadCredentials(ctx context.Context) (*models.Credentials, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT server_address, bearer_token FROM credentials WHERE key = ?`, credentialsKey)

	creds := models.Credentials{Remember: true}
	err := row.Scan(&creds.ServerAddress, &creds.BearerToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading credentials: %w", err)
	}
	return &creds, nil
}

func (s *SQLiteStore) DeleteCredentials(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, credentialsKey)
	if err != nil {
		return fmt.Errorf("error deleting credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveLastProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastProjectKey, projectID)
	if err != nil {
		return fmt.Errorf("error saving last project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastProject(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, lastProjectKey)

	var projectID string
	err := row.Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error loading last project: %w", err)
	}
	return projectID, nil
}

func (s *SQLiteStore) AddRecentSearch(ctx context.Context, query string) error {
	// Upserting on the query itself deduplicates repeats; only the
	// timestamp moves.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recent_searches (query, searched_at) VALUES (?, ?)
		 ON CONFLICT(query) DO UPDATE SET searched_at = excluded.searched_at`,
		query, time.Now())
	if err != nil {
		return fmt.Errorf("error saving recent search: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM recent_searches WHERE query NOT IN (
			SELECT query FROM recent_searches ORDER BY searched_at DESC LIMIT ?
		)`, recentSearchLimit)
	if err != nil {
		return fmt.Errorf("error trimming recent searches: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentSearches(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query FROM recent_searches ORDER BY searched_at DESC LIMIT ?`, recentSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("error listing recent searches: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("error scanning recent search: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
