package person

import (
	"fmt"
	"log/slog"
	"time"

	"inkbook/internal/clock"
	"inkbook/internal/model"
	"inkbook/internal/store"
)

// LockTimeout is how long a lock is honored. A lock older than this is
// stale: its holder crashed or lost connectivity, and anyone may take
// over. Guarantees no permanent lockout.
const LockTimeout = 5 * time.Minute

type Service struct {
	notes    *store.NoteStore
	deviceID string
	clock    clock.Clock
	logger   *slog.Logger
}

func NewService(notes *store.NoteStore, deviceID string, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{notes: notes, deviceID: deviceID, clock: clk, logger: logger}
}

// LoadForEvent returns the event's note, first converging it with the
// person group: if any note sharing the event's person key is strictly
// newer, its content and timestamp are copied in. Convergence happens at
// read time; nothing is broadcast to the rest of the group here.
func (s *Service) LoadForEvent(event *model.Event) (*model.Note, error) {
	key, ok := KeyFor(event.Title, event.RecordNumber)
	if !ok {
		return s.notes.Get(event.ID)
	}

	group, err := s.notes.ListByPersonKey(key.Name, key.Record)
	if err != nil {
		return nil, err
	}

	own, err := s.notes.Get(event.ID)
	if err != nil {
		return nil, err
	}

	newest := newestOther(group, event.ID)

	if err := s.notes.StampPersonKey(event.ID, event.BookID, key.Name, key.Record); err != nil {
		return nil, err
	}

	if newest != nil && (own == nil || newest.UpdatedAt.After(own.UpdatedAt)) {
		// The copy is a replica of content already durable on the source
		// note, not a fresh edit, so it is not marked dirty here.
		if err := s.notes.CopyContent(event.ID, newest.Content, newest.UpdatedAt, false); err != nil {
			return nil, err
		}
	}

	return s.notes.Get(event.ID)
}

// SaveWithSync persists the note for this event and propagates the new
// content to every other note in the person group that is not being
// edited on another device right now. Locked group members are skipped;
// their holder's save will converge them later. Saving always releases
// any lock this device held on the saved note.
func (s *Service) SaveWithSync(event *model.Event, content string) (*model.Note, error) {
	key, hasKey := KeyFor(event.Title, event.RecordNumber)

	var nameKey, recordKey string
	if hasKey {
		nameKey, recordKey = key.Name, key.Record
	}

	saved, err := s.notes.SaveLocal(event.ID, event.BookID, content, nameKey, recordKey)
	if err != nil {
		return nil, err
	}

	if hasKey {
		group, err := s.notes.ListByPersonKey(nameKey, recordKey)
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		for _, other := range group {
			if other.EventID == event.ID {
				continue
			}
			if s.lockedByOther(&other, now) {
				s.logger.Debug("skipping locked group note", "event_id", other.EventID, "holder", other.LockedByDevice)
				continue
			}
			// Propagated copies are local changes that must reach the
			// server, so they go out dirty.
			if err := s.notes.CopyContent(other.EventID, content, saved.UpdatedAt, true); err != nil {
				return nil, err
			}
		}
	}

	if saved.LockedByDevice == s.deviceID {
		if err := s.notes.ClearLock(event.ID); err != nil {
			return nil, err
		}
	}

	return s.notes.Get(event.ID)
}

// HandleRecordNumberUpdate fires when an event's record number goes from
// empty to populated, deciding how the note joins the person group:
// adopt an existing group note's content if one has real content, else
// promote the event's own content under the new key, else just stamp the
// key.
func (s *Service) HandleRecordNumberUpdate(event *model.Event) (*model.Note, error) {
	key, ok := KeyFor(event.Title, event.RecordNumber)
	if !ok {
		return s.notes.Get(event.ID)
	}

	group, err := s.notes.ListByPersonKey(key.Name, key.Record)
	if err != nil {
		return nil, err
	}

	if err := s.notes.StampPersonKey(event.ID, event.BookID, key.Name, key.Record); err != nil {
		return nil, err
	}

	for _, member := range group {
		if member.EventID == event.ID || member.Content == "" {
			continue
		}
		// Adoption changes local content, so it syncs like any edit.
		if err := s.notes.CopyContent(event.ID, member.Content, member.UpdatedAt, true); err != nil {
			return nil, err
		}
		return s.notes.Get(event.ID)
	}

	// No group content to adopt: the own note's content (possibly empty)
	// is promoted as-is under the new key.
	return s.notes.Get(event.ID)
}

// AcquireLock takes the edit lock for the event's note. It succeeds when
// the note is unlocked, already held by this device, or held by a lock
// old enough to be stale.
func (s *Service) AcquireLock(event *model.Event) (bool, error) {
	if err := s.notes.EnsureRow(event.ID, event.BookID); err != nil {
		return false, err
	}

	note, err := s.notes.Get(event.ID)
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	if s.lockedByOther(note, now) {
		return false, nil
	}

	if err := s.notes.SetLock(event.ID, s.deviceID, now); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLock clears the lock if this device holds it. Releasing someone
// else's lock is refused; stale locks fall to CleanupStaleLocks instead.
func (s *Service) ReleaseLock(eventID string) error {
	note, err := s.notes.Get(eventID)
	if err != nil {
		return err
	}
	if note == nil || note.LockedByDevice == "" {
		return nil
	}
	if note.LockedByDevice != s.deviceID {
		return fmt.Errorf("lock on %s held by %s", eventID, note.LockedByDevice)
	}
	return s.notes.ClearLock(eventID)
}

// IsLockedByOther is the gate callers must check before permitting an
// edit. Unlocked, self-locked, and stale locks all return false.
func (s *Service) IsLockedByOther(eventID string) (bool, error) {
	note, err := s.notes.Get(eventID)
	if err != nil {
		return false, err
	}
	return s.lockedByOther(note, s.clock.Now()), nil
}

// CleanupStaleLocks force-clears every lock older than the timeout,
// regardless of holder. Run periodically so a crashed device can never
// lock a note forever.
func (s *Service) CleanupStaleLocks() (int64, error) {
	cutoff := s.clock.Now().Add(-LockTimeout)
	cleared, err := s.notes.ClearStaleLocks(cutoff)
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		s.logger.Info("cleared stale note locks", "count", cleared)
	}
	return cleared, nil
}

func (s *Service) lockedByOther(note *model.Note, now time.Time) bool {
	if note == nil || note.LockedByDevice == "" || note.LockedAt == nil {
		return false
	}
	if note.LockedByDevice == s.deviceID {
		return false
	}
	return now.Sub(*note.LockedAt) < LockTimeout
}

func newestOther(group []model.Note, excludeEventID string) *model.Note {
	for i := range group {
		if group[i].EventID != excludeEventID {
			return &group[i]
		}
	}
	return nil
}
