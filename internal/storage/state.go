package storage

import (
	"database/sql"
	"errors"
	"time"
)

// Store keeps one opaque payload per (kind, id) in resource_state.
// Every write bumps the row version, so a reader can tell how often a
// device's state changed since it was first stored.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Get returns the payload and its version. A missing row yields a nil
// payload and version 0.
func (s *Store) Get(kind, id string) ([]byte, int64, error) {
	var (
		payload []byte
		version int64
	)
	err := s.db.QueryRow(
		`SELECT payload, version FROM resource_state WHERE kind = ? AND id = ?`,
		kind, id,
	).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return payload, version, nil
}

// Set upserts the payload and returns the version it was stored under.
func (s *Store) Set(kind, id string, payload []byte) (int64, error) {
	var version int64
	err := s.db.QueryRow(`
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = resource_state.version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, kind, id, payload, s.now().UTC().Unix()).Scan(&version)
	return version, err
}

// Delete drops the row for (kind, id). Deleting a missing row is not an error.
func (s *Store) Delete(kind, id string) error {
	_, err := s.db.Exec(`DELETE FROM resource_state WHERE kind = ? AND id = ?`, kind, id)
	return err
}
