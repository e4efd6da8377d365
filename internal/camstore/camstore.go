// Package camstore keeps a local cache of the account's cameras so the CLI
// can answer `cameras` offline. Read-through only: the server list wins.
package camstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/haloview/haloview-go/internal/transport"
)

const camerasPath = "/api/v1/mobile/cameras"

// Camera is one camera on the account.
type Camera struct {
	ID       string    `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	Model    string    `json:"model" db:"model"`
	Online   bool      `json:"online" db:"online"`
	SyncedAt time.Time `json:"synced_at" db:"synced_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS cameras (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	model     TEXT NOT NULL,
	online    INTEGER NOT NULL,
	synced_at TIMESTAMP NOT NULL
);`

// Store is the sqlite-backed camera cache.
type Store struct {
	db *sqlx.DB
}

// Open opens (and if needed creates) the cache database.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open camera cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init camera cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Sync fetches the camera list with the given access token and replaces the
// cache. Returns the fresh list.
func (s *Store) Sync(ctx context.Context, client *transport.Client, token string) ([]Camera, error) {
	res, err := client.DoAuthed(ctx, http.MethodGet, camerasPath, token, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("camera list request failed with status %d: %s", res.Status, res.Detail())
	}

	var cameras []Camera
	if err := res.Decode(&cameras); err != nil {
		return nil, err
	}

	now := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cameras`); err != nil {
		return nil, err
	}
	for i := range cameras {
		cameras[i].SyncedAt = now
		if _, err := tx.NamedExec(`
			INSERT INTO cameras (id, name, model, online, synced_at)
			VALUES (:id, :name, :model, :online, :synced_at)`, cameras[i]); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cameras, nil
}

// List returns the cached cameras, name-ordered.
func (s *Store) List(ctx context.Context) ([]Camera, error) {
	var cameras []Camera
	if err := s.db.SelectContext(ctx, &cameras,
		`SELECT id, name, model, online, synced_at FROM cameras ORDER BY name`); err != nil {
		return nil, err
	}
	return cameras, nil
}
