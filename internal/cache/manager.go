// Package cache applies the eviction policy (TTL plus a size-bounded
// LRU) over the local store. It never talks to the network and never
// evicts a dirty record.
package cache

import (
	"fmt"
	"log/slog"
	"sync"

	"inkbook/internal/clock"
	"inkbook/internal/store"
)

const (
	// evictBatch is how many of the coldest entries each eviction round
	// removes per entry kind.
	evictBatch = 10
	// evictCap bounds total deletions in one EvictLRU call so pathological
	// inputs (size never dropping) cannot loop forever.
	evictCap = 1000
)

type Manager struct {
	mu       sync.Mutex
	notes    *store.NoteStore
	drawings *store.DrawingStore
	policy   *store.PolicyStore
	clock    clock.Clock
	logger   *slog.Logger
}

func NewManager(notes *store.NoteStore, drawings *store.DrawingStore, policy *store.PolicyStore, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		notes:    notes,
		drawings: drawings,
		policy:   policy,
		clock:    clk,
		logger:   logger,
	}
}

// EvictExpired deletes every cached entry whose age exceeds the policy's
// cache duration, notes and drawings independently, and returns the count
// removed.
func (m *Manager) EvictExpired() (int64, error) {
	policy, err := m.policy.Get()
	if err != nil {
		return 0, err
	}
	cutoff := m.clock.Now().AddDate(0, 0, -policy.CacheDurationDays)

	notesRemoved, err := m.notes.DeleteExpired(cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict expired notes: %w", err)
	}
	drawingsRemoved, err := m.drawings.DeleteExpired(cutoff)
	if err != nil {
		return notesRemoved, fmt.Errorf("evict expired drawings: %w", err)
	}

	removed := notesRemoved + drawingsRemoved
	if removed > 0 {
		m.logger.Info("evicted expired cache entries", "notes", notesRemoved, "drawings", drawingsRemoved)
	}
	return removed, nil
}

// EvictLRU deletes the coldest entries in fixed batches until total cached
// content size is at or under targetMB. Stops when a round removes
// nothing or after the deletion cap, so it always terminates.
func (m *Manager) EvictLRU(targetMB int64) (int64, error) {
	targetBytes := targetMB * 1024 * 1024
	var total int64

	for total < evictCap {
		size, err := m.totalBytes()
		if err != nil {
			return total, err
		}
		if size <= targetBytes {
			break
		}

		var round int64

		noteIDs, err := m.notes.ColdestIDs(evictBatch)
		if err != nil {
			return total, err
		}
		n, err := m.notes.DeleteMany(noteIDs)
		if err != nil {
			return total, err
		}
		round += n

		drawingKeys, err := m.drawings.ColdestKeys(evictBatch)
		if err != nil {
			return total, err
		}
		n, err = m.drawings.DeleteKeys(drawingKeys)
		if err != nil {
			return total, err
		}
		round += n

		if round == 0 {
			// Everything left is dirty and must not be evicted.
			break
		}
		total += round
	}

	if total > 0 {
		m.logger.Info("evicted cache entries for size", "removed", total, "target_mb", targetMB)
	}
	return total, nil
}

// StartupCleanup runs the full cleanup sequence if auto-cleanup is
// enabled: expire by age, then shrink to budget, then persist the cleanup
// time.
func (m *Manager) StartupCleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy, err := m.policy.Get()
	if err != nil {
		return err
	}
	if !policy.AutoCleanup {
		return nil
	}

	if _, err := m.EvictExpired(); err != nil {
		return err
	}

	over, err := m.overBudget(policy.MaxCacheSizeMB)
	if err != nil {
		return err
	}
	if over {
		if _, err := m.EvictLRU(policy.MaxCacheSizeMB); err != nil {
			return err
		}
	}

	return m.policy.SetLastCleanup(m.clock.Now())
}

// EnsureBudget is the post-write guard: if a cache write pushed the total
// over budget, repeat the cleanup sequence now instead of deferring it to
// the next startup.
func (m *Manager) EnsureBudget() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy, err := m.policy.Get()
	if err != nil {
		return err
	}
	if !policy.AutoCleanup {
		return nil
	}

	over, err := m.overBudget(policy.MaxCacheSizeMB)
	if err != nil {
		return err
	}
	if !over {
		return nil
	}

	if _, err := m.EvictExpired(); err != nil {
		return err
	}
	if _, err := m.EvictLRU(policy.MaxCacheSizeMB); err != nil {
		return err
	}
	return m.policy.SetLastCleanup(m.clock.Now())
}

func (m *Manager) overBudget(maxMB int64) (bool, error) {
	size, err := m.totalBytes()
	if err != nil {
		return false, err
	}
	return size > maxMB*1024*1024, nil
}

func (m *Manager) totalBytes() (int64, error) {
	noteBytes, err := m.notes.TotalContentBytes()
	if err != nil {
		return 0, err
	}
	drawingBytes, err := m.drawings.TotalContentBytes()
	if err != nil {
		return 0, err
	}
	return noteBytes + drawingBytes, nil
}
