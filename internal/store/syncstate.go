package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SyncStateStore persists the last-sync cursor handed back by the server.
type SyncStateStore struct {
	db *sql.DB
}

func NewSyncStateStore(db *sql.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

// LastSyncAt returns the stored cursor, or nil before the first sync.
func (s *SyncStateStore) LastSyncAt() (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRow(`SELECT last_sync_at FROM sync_state WHERE id = 1`).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last sync: %w", err)
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

func (s *SyncStateStore) SetLastSyncAt(t time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_state (id, last_sync_at) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET last_sync_at = excluded.last_sync_at`,
		t,
	)
	if err != nil {
		return fmt.Errorf("set last sync: %w", err)
	}
	return nil
}
