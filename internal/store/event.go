package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inkbook/internal/clock"
	"inkbook/internal/model"
)

type EventStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewEventStore(db *sql.DB, clk clock.Clock) *EventStore {
	return &EventStore{db: db, clock: clk}
}

func scanEvent(scanner interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var isRemoved, dirty int
	var originalID, newID sql.NullString

	err := scanner.Scan(
		&e.ID, &e.BookID, &e.Title, &e.RecordNumber, &e.EventType,
		&e.StartTime, &e.EndTime, &isRemoved, &e.RemovalReason,
		&originalID, &newID, &e.Version, &dirty, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.IsRemoved = isRemoved != 0
	e.Dirty = dirty != 0
	if originalID.Valid {
		e.OriginalEventID = &originalID.String
	}
	if newID.Valid {
		e.NewEventID = &newID.String
	}
	return &e, nil
}

const eventCols = `id, book_id, title, record_number, event_type, start_time, end_time,
	is_removed, removal_reason, original_event_id, new_event_id, version, dirty, created_at, updated_at`

func (s *EventStore) Create(bookID, title, recordNumber, eventType string, start, end time.Time) (*model.Event, error) {
	id := uuid.NewString()
	now := s.clock.Now()

	_, err := s.db.Exec(
		`INSERT INTO events (id, book_id, title, record_number, event_type, start_time, end_time, dirty, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		id, bookID, title, recordNumber, eventType, start, end, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return s.GetByID(id)
}

func (s *EventStore) GetByID(id string) (*model.Event, error) {
	row := s.db.QueryRow(`SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// ListByBook returns events for a book ordered by start time. Soft-removed
// events are excluded unless includeRemoved is set.
func (s *EventStore) ListByBook(bookID string, includeRemoved bool) ([]model.Event, error) {
	query := `SELECT ` + eventCols + ` FROM events WHERE book_id = ?`
	if !includeRemoved {
		query += ` AND is_removed = 0`
	}
	query += ` ORDER BY start_time`

	rows, err := s.db.Query(query, bookID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// Update rewrites the editable fields of an event and marks it dirty.
// Start and end times are deliberately not updatable here; time changes
// must go through Reschedule so the audit chain stays intact.
func (s *EventStore) Update(id, title, recordNumber, eventType string) (*model.Event, error) {
	_, err := s.db.Exec(
		`UPDATE events SET title = ?, record_number = ?, event_type = ?, dirty = 1, updated_at = ? WHERE id = ?`,
		title, recordNumber, eventType, s.clock.Now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return s.GetByID(id)
}

// Remove soft-removes an event. The row is never physically deleted by a
// normal edit.
func (s *EventStore) Remove(id, reason string) error {
	_, err := s.db.Exec(
		`UPDATE events SET is_removed = 1, removal_reason = ?, dirty = 1, updated_at = ? WHERE id = ?`,
		reason, s.clock.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("remove event: %w", err)
	}
	return nil
}

// Reschedule soft-removes the original event and creates a replacement at
// the new times, linking the two bidirectionally and carrying the note
// content over to the replacement. Runs in one transaction so a crash
// cannot leave a half-built chain.
func (s *EventStore) Reschedule(id string, newStart, newEnd time.Time) (*model.Event, error) {
	orig, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, fmt.Errorf("reschedule: event %s not found", id)
	}

	newID := uuid.NewString()
	now := s.clock.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin reschedule: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE events SET is_removed = 1, removal_reason = 'rescheduled', new_event_id = ?, dirty = 1, updated_at = ? WHERE id = ?`,
		newID, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("reschedule remove original: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO events (id, book_id, title, record_number, event_type, start_time, end_time, original_event_id, dirty, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		newID, orig.BookID, orig.Title, orig.RecordNumber, orig.EventType, newStart, newEnd, id, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("reschedule insert replacement: %w", err)
	}

	// Carry the handwriting over. The original keeps its own note row so
	// the removed event still shows what was written on it.
	_, err = tx.Exec(
		`INSERT INTO notes (event_id, book_id, content, dirty, cached_at, person_name_key, person_record_key, updated_at)
		 SELECT ?, book_id, content, 1, ?, person_name_key, person_record_key, ?
		 FROM notes WHERE event_id = ?`,
		newID, now, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("reschedule copy note: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reschedule: %w", err)
	}
	return s.GetByID(newID)
}

// SetRecordNumber updates only the record number and reports the previous
// value, so the caller can detect the empty-to-populated transition that
// drives person-key adoption.
func (s *EventStore) SetRecordNumber(id, recordNumber string) (previous string, _ *model.Event, err error) {
	event, err := s.GetByID(id)
	if err != nil {
		return "", nil, err
	}
	if event == nil {
		return "", nil, fmt.Errorf("set record number: event %s not found", id)
	}

	_, err = s.db.Exec(
		`UPDATE events SET record_number = ?, dirty = 1, updated_at = ? WHERE id = ?`,
		recordNumber, s.clock.Now(), id,
	)
	if err != nil {
		return "", nil, fmt.Errorf("set record number: %w", err)
	}

	updated, err := s.GetByID(id)
	if err != nil {
		return "", nil, err
	}
	return event.RecordNumber, updated, nil
}

// ListDirty returns events awaiting sync, oldest first. A non-empty
// bookID restricts the result to that book.
func (s *EventStore) ListDirty(bookID string) ([]model.Event, error) {
	query := `SELECT ` + eventCols + ` FROM events WHERE dirty = 1`
	args := []any{}
	if bookID != "" {
		query += ` AND book_id = ?`
		args = append(args, bookID)
	}
	rows, err := s.db.Query(query+` ORDER BY updated_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list dirty events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// MarkSynced clears the dirty flag only if the row has not been touched
// since it was collected for the push. A local edit that lands between
// send and acknowledgment keeps its dirty flag and is re-pushed.
func (s *EventStore) MarkSynced(id string, collectedAt time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE events SET dirty = 0 WHERE id = ? AND updated_at = ?`,
		id, collectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("mark event synced: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ApplyConflict overwrites the editable fields with the server's winning
// copy while leaving the dirty flag untouched.
func (s *EventStore) ApplyConflict(p model.EventPayload) error {
	var isRemoved int
	if p.IsRemoved {
		isRemoved = 1
	}
	_, err := s.db.Exec(
		`UPDATE events SET title = ?, record_number = ?, event_type = ?, start_time = ?, end_time = ?,
		 is_removed = ?, removal_reason = ?, version = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.RecordNumber, p.EventType, p.StartTime, p.EndTime,
		isRemoved, p.RemovalReason, p.Version, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("apply event conflict: %w", err)
	}
	return nil
}

// ApplyServerDelete soft-removes an event on the server's say-so. The row
// lands clean; there is nothing left to push for it.
func (s *EventStore) ApplyServerDelete(id string) error {
	_, err := s.db.Exec(
		`UPDATE events SET is_removed = 1, removal_reason = 'removed on server', dirty = 0, updated_at = ? WHERE id = ?`,
		s.clock.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("apply server event delete: %w", err)
	}
	return nil
}

// ApplyServer upserts an authoritative server copy of an event. The row
// lands clean: server state is by definition already synced.
func (s *EventStore) ApplyServer(p model.EventPayload) error {
	var isRemoved int
	if p.IsRemoved {
		isRemoved = 1
	}
	var origID, newID sql.NullString
	if p.OriginalEventID != nil {
		origID = sql.NullString{String: *p.OriginalEventID, Valid: true}
	}
	if p.NewEventID != nil {
		newID = sql.NullString{String: *p.NewEventID, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO events (id, book_id, title, record_number, event_type, start_time, end_time,
		                     is_removed, removal_reason, original_event_id, new_event_id, version, dirty, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   book_id = excluded.book_id, title = excluded.title, record_number = excluded.record_number,
		   event_type = excluded.event_type, start_time = excluded.start_time, end_time = excluded.end_time,
		   is_removed = excluded.is_removed, removal_reason = excluded.removal_reason,
		   original_event_id = excluded.original_event_id, new_event_id = excluded.new_event_id,
		   version = excluded.version, dirty = 0, updated_at = excluded.updated_at`,
		p.ID, p.BookID, p.Title, p.RecordNumber, p.EventType, p.StartTime, p.EndTime,
		isRemoved, p.RemovalReason, origID, newID, p.Version, p.UpdatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("apply server event: %w", err)
	}
	return nil
}
