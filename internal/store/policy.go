package store

import (
	"database/sql"
	"fmt"
	"time"

	"inkbook/internal/model"
)

type PolicyStore struct {
	db *sql.DB
}

func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

// Get returns the singleton cache policy, creating the default row on
// first access.
func (s *PolicyStore) Get() (model.CachePolicy, error) {
	var p model.CachePolicy
	var autoCleanup int
	var lastCleanup sql.NullTime

	err := s.db.QueryRow(
		`SELECT max_cache_size_mb, cache_duration_days, auto_cleanup, last_cleanup_at FROM cache_policy WHERE id = 1`,
	).Scan(&p.MaxCacheSizeMB, &p.CacheDurationDays, &autoCleanup, &lastCleanup)
	if err == sql.ErrNoRows {
		p = model.DefaultCachePolicy()
		if err := s.Update(p); err != nil {
			return p, err
		}
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("get cache policy: %w", err)
	}

	p.AutoCleanup = autoCleanup != 0
	if lastCleanup.Valid {
		p.LastCleanupAt = &lastCleanup.Time
	}
	return p, nil
}

func (s *PolicyStore) Update(p model.CachePolicy) error {
	var autoCleanup int
	if p.AutoCleanup {
		autoCleanup = 1
	}
	var lastCleanup sql.NullTime
	if p.LastCleanupAt != nil {
		lastCleanup = sql.NullTime{Time: *p.LastCleanupAt, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO cache_policy (id, max_cache_size_mb, cache_duration_days, auto_cleanup, last_cleanup_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   max_cache_size_mb = excluded.max_cache_size_mb,
		   cache_duration_days = excluded.cache_duration_days,
		   auto_cleanup = excluded.auto_cleanup,
		   last_cleanup_at = excluded.last_cleanup_at`,
		p.MaxCacheSizeMB, p.CacheDurationDays, autoCleanup, lastCleanup,
	)
	if err != nil {
		return fmt.Errorf("update cache policy: %w", err)
	}
	return nil
}

// Configure applies the configured limits, leaving the stored cleanup
// timestamp alone so it survives restarts.
func (s *PolicyStore) Configure(maxSizeMB int64, durationDays int, autoCleanup bool) error {
	var auto int
	if autoCleanup {
		auto = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO cache_policy (id, max_cache_size_mb, cache_duration_days, auto_cleanup)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   max_cache_size_mb = excluded.max_cache_size_mb,
		   cache_duration_days = excluded.cache_duration_days,
		   auto_cleanup = excluded.auto_cleanup`,
		maxSizeMB, durationDays, auto,
	)
	if err != nil {
		return fmt.Errorf("configure cache policy: %w", err)
	}
	return nil
}

func (s *PolicyStore) SetLastCleanup(t time.Time) error {
	_, err := s.db.Exec(
		`UPDATE cache_policy SET last_cleanup_at = ? WHERE id = 1`, t,
	)
	if err != nil {
		return fmt.Errorf("set last cleanup: %w", err)
	}
	return nil
}
