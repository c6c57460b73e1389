package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"inkbook/internal/clock"
	"inkbook/internal/model"
)

type NoteStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewNoteStore(db *sql.DB, clk clock.Clock) *NoteStore {
	return &NoteStore{db: db, clock: clk}
}

func scanNote(scanner interface{ Scan(...any) error }) (*model.Note, error) {
	var n model.Note
	var dirty int
	var lockedAt sql.NullTime

	err := scanner.Scan(
		&n.EventID, &n.BookID, &n.Content, &n.Version, &dirty,
		&n.CachedAt, &n.HitCount, &n.PersonNameKey, &n.PersonRecordKey,
		&n.LockedByDevice, &lockedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Dirty = dirty != 0
	if lockedAt.Valid {
		n.LockedAt = &lockedAt.Time
	}
	return &n, nil
}

const noteCols = `event_id, book_id, content, version, dirty, cached_at, hit_count,
	person_name_key, person_record_key, locked_by_device, locked_at, updated_at`

func (s *NoteStore) Get(eventID string) (*model.Note, error) {
	row := s.db.QueryRow(`SELECT `+noteCols+` FROM notes WHERE event_id = ?`, eventID)
	n, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// TouchHit bumps the cache hit counter used for LRU ordering.
func (s *NoteStore) TouchHit(eventID string) error {
	_, err := s.db.Exec(`UPDATE notes SET hit_count = hit_count + 1 WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("touch note hit: %w", err)
	}
	return nil
}

// SaveLocal writes note content locally, stamped dirty. This is the only
// write path for user edits; it must succeed without any network.
func (s *NoteStore) SaveLocal(eventID, bookID, content, personNameKey, personRecordKey string) (*model.Note, error) {
	now := s.clock.Now()
	_, err := s.db.Exec(
		`INSERT INTO notes (event_id, book_id, content, dirty, cached_at, person_name_key, person_record_key, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET
		   content = excluded.content, dirty = 1, cached_at = excluded.cached_at,
		   person_name_key = excluded.person_name_key, person_record_key = excluded.person_record_key,
		   updated_at = excluded.updated_at`,
		eventID, bookID, content, now, personNameKey, personRecordKey, now,
	)
	if err != nil {
		return nil, fmt.Errorf("save note: %w", err)
	}
	return s.Get(eventID)
}

// PutClean upserts a server copy fetched over the wire. The row lands
// clean; hit count, person keys, and lock columns on an existing row are
// left alone. A dirty row is left entirely untouched: it holds an
// unacknowledged local edit, and only a sync acknowledgment may clear it.
func (s *NoteStore) PutClean(p model.NotePayload) (*model.Note, error) {
	now := s.clock.Now()
	_, err := s.db.Exec(
		`INSERT INTO notes (event_id, book_id, content, version, dirty, cached_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET
		   content = excluded.content, version = excluded.version, dirty = 0,
		   cached_at = excluded.cached_at, updated_at = excluded.updated_at
		 WHERE notes.dirty = 0`,
		p.EventID, p.BookID, p.Content, p.Version, now, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("put note: %w", err)
	}
	return s.Get(p.EventID)
}

// CopyContent overwrites a note's content and timestamp from another note
// in the same person group. markDirty controls whether the copy is pushed
// on the next sync cycle.
func (s *NoteStore) CopyContent(eventID, content string, updatedAt time.Time, markDirty bool) error {
	query := `UPDATE notes SET content = ?, updated_at = ? WHERE event_id = ?`
	if markDirty {
		query = `UPDATE notes SET content = ?, updated_at = ?, dirty = 1 WHERE event_id = ?`
	}
	_, err := s.db.Exec(query, content, updatedAt, eventID)
	if err != nil {
		return fmt.Errorf("copy note content: %w", err)
	}
	return nil
}

// EnsureRow creates an empty note row for the event if none exists yet,
// leaving an existing row untouched.
func (s *NoteStore) EnsureRow(eventID, bookID string) error {
	now := s.clock.Now()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO notes (event_id, book_id, cached_at, updated_at) VALUES (?, ?, ?, ?)`,
		eventID, bookID, now, now,
	)
	if err != nil {
		return fmt.Errorf("ensure note row: %w", err)
	}
	return nil
}

// StampPersonKey records the person key on a note without touching its
// content or dirty state. Creates the row if the event has no note yet.
func (s *NoteStore) StampPersonKey(eventID, bookID, personNameKey, personRecordKey string) error {
	now := s.clock.Now()
	_, err := s.db.Exec(
		`INSERT INTO notes (event_id, book_id, cached_at, person_name_key, person_record_key, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO UPDATE SET
		   person_name_key = excluded.person_name_key, person_record_key = excluded.person_record_key`,
		eventID, bookID, now, personNameKey, personRecordKey, now,
	)
	if err != nil {
		return fmt.Errorf("stamp person key: %w", err)
	}
	return nil
}

// ListByPersonKey returns every note sharing the person key, most recently
// updated first.
func (s *NoteStore) ListByPersonKey(personNameKey, personRecordKey string) ([]model.Note, error) {
	rows, err := s.db.Query(
		`SELECT `+noteCols+` FROM notes WHERE person_name_key = ? AND person_record_key = ? ORDER BY updated_at DESC`,
		personNameKey, personRecordKey,
	)
	if err != nil {
		return nil, fmt.Errorf("list notes by person key: %w", err)
	}
	defer rows.Close()

	var notes []model.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

// SetLock stamps the lock holder and time. Callers decide whether taking
// the lock is legal; the store just records it.
func (s *NoteStore) SetLock(eventID, deviceID string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE notes SET locked_by_device = ?, locked_at = ? WHERE event_id = ?`,
		deviceID, at, eventID,
	)
	if err != nil {
		return fmt.Errorf("set note lock: %w", err)
	}
	return nil
}

func (s *NoteStore) ClearLock(eventID string) error {
	_, err := s.db.Exec(
		`UPDATE notes SET locked_by_device = '', locked_at = NULL WHERE event_id = ?`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("clear note lock: %w", err)
	}
	return nil
}

// ClearStaleLocks force-clears every lock taken before cutoff, regardless
// of holder, and returns how many were cleared.
func (s *NoteStore) ClearStaleLocks(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE notes SET locked_by_device = '', locked_at = NULL WHERE locked_at IS NOT NULL AND locked_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("clear stale locks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ListDirty returns notes awaiting sync, oldest first. A non-empty
// bookID restricts the result to that book.
func (s *NoteStore) ListDirty(bookID string) ([]model.Note, error) {
	query := `SELECT ` + noteCols + ` FROM notes WHERE dirty = 1`
	args := []any{}
	if bookID != "" {
		query += ` AND book_id = ?`
		args = append(args, bookID)
	}
	rows, err := s.db.Query(query+` ORDER BY updated_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list dirty notes: %w", err)
	}
	defer rows.Close()

	var notes []model.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	return notes, rows.Err()
}

// MarkSynced clears the dirty flag only if the note has not changed since
// it was collected for the push.
func (s *NoteStore) MarkSynced(eventID string, collectedAt time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE notes SET dirty = 0 WHERE event_id = ? AND updated_at = ?`,
		eventID, collectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("mark note synced: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ConfirmSave applies a successful per-record save acknowledgment: adopt
// the server-assigned version and clear dirty, but only if no local edit
// landed while the request was in flight.
func (s *NoteStore) ConfirmSave(eventID string, serverVersion int64, collectedAt time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE notes SET version = ?, dirty = 0 WHERE event_id = ? AND updated_at = ?`,
		serverVersion, eventID, collectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("confirm note save: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ApplyConflict overwrites content, version, and timestamp with the
// server's winning copy while leaving the dirty flag untouched: the
// record was not confirmed synced, so it stays queued for the next push.
func (s *NoteStore) ApplyConflict(p model.NotePayload) error {
	_, err := s.db.Exec(
		`UPDATE notes SET content = ?, version = ?, updated_at = ? WHERE event_id = ?`,
		p.Content, p.Version, p.UpdatedAt, p.EventID,
	)
	if err != nil {
		return fmt.Errorf("apply note conflict: %w", err)
	}
	return nil
}

func (s *NoteStore) Delete(eventID string) error {
	_, err := s.db.Exec(`DELETE FROM notes WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// DeleteExpired evicts clean cached notes older than cutoff. Dirty notes
// are never evicted: they are the only durable copy of an unsynced edit.
func (s *NoteStore) DeleteExpired(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM notes WHERE dirty = 0 AND cached_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired notes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ColdestIDs returns up to limit evictable note IDs, coldest first: lowest
// hit count, then oldest cache time.
func (s *NoteStore) ColdestIDs(limit int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT event_id FROM notes WHERE dirty = 0 ORDER BY hit_count ASC, cached_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("coldest notes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan note id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *NoteStore) DeleteMany(eventIDs []string) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}
	result, err := s.db.Exec(`DELETE FROM notes WHERE event_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete notes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// TotalContentBytes returns the cached note content size used for the
// cache budget.
func (s *NoteStore) TotalContentBytes() (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(LENGTH(content)) FROM notes`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("note content size: %w", err)
	}
	return total.Int64, nil
}
