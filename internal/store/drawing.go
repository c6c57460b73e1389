package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"inkbook/internal/clock"
	"inkbook/internal/model"
)

type DrawingStore struct {
	db    *sql.DB
	clock clock.Clock
}

func NewDrawingStore(db *sql.DB, clk clock.Clock) *DrawingStore {
	return &DrawingStore{db: db, clock: clk}
}

// DrawingKey identifies one schedule drawing row.
type DrawingKey struct {
	BookID   string
	Day      string
	ViewMode string
}

func (k DrawingKey) String() string {
	return model.DrawingID(k.BookID, k.Day, k.ViewMode)
}

func marshalStrokes(strokes []model.Stroke) (string, error) {
	if strokes == nil {
		strokes = []model.Stroke{}
	}
	data, err := json.Marshal(strokes)
	if err != nil {
		return "", fmt.Errorf("marshal strokes: %w", err)
	}
	return string(data), nil
}

func scanDrawing(scanner interface{ Scan(...any) error }) (*model.Drawing, error) {
	var d model.Drawing
	var dirty int
	var strokes string

	err := scanner.Scan(
		&d.BookID, &d.Day, &d.ViewMode, &strokes, &d.Version, &dirty,
		&d.CachedAt, &d.HitCount, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Dirty = dirty != 0
	if err := json.Unmarshal([]byte(strokes), &d.Strokes); err != nil {
		return nil, fmt.Errorf("unmarshal strokes: %w", err)
	}
	return &d, nil
}

const drawingCols = `book_id, day, view_mode, strokes, version, dirty, cached_at, hit_count, updated_at`

func (s *DrawingStore) Get(key DrawingKey) (*model.Drawing, error) {
	row := s.db.QueryRow(
		`SELECT `+drawingCols+` FROM drawings WHERE book_id = ? AND day = ? AND view_mode = ?`,
		key.BookID, key.Day, key.ViewMode,
	)
	d, err := scanDrawing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get drawing: %w", err)
	}
	return d, nil
}

func (s *DrawingStore) TouchHit(key DrawingKey) error {
	_, err := s.db.Exec(
		`UPDATE drawings SET hit_count = hit_count + 1 WHERE book_id = ? AND day = ? AND view_mode = ?`,
		key.BookID, key.Day, key.ViewMode,
	)
	if err != nil {
		return fmt.Errorf("touch drawing hit: %w", err)
	}
	return nil
}

// SaveLocal writes drawing strokes locally, stamped dirty.
func (s *DrawingStore) SaveLocal(key DrawingKey, strokes []model.Stroke) (*model.Drawing, error) {
	blob, err := marshalStrokes(strokes)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	_, err = s.db.Exec(
		`INSERT INTO drawings (book_id, day, view_mode, strokes, dirty, cached_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(book_id, day, view_mode) DO UPDATE SET
		   strokes = excluded.strokes, dirty = 1, cached_at = excluded.cached_at, updated_at = excluded.updated_at`,
		key.BookID, key.Day, key.ViewMode, blob, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("save drawing: %w", err)
	}
	return s.Get(key)
}

// SetStrokesAndVersion replaces strokes and adopts a server version while
// keeping the row dirty, used mid conflict-retry before the follow-up save.
func (s *DrawingStore) SetStrokesAndVersion(key DrawingKey, strokes []model.Stroke, version int64) (*model.Drawing, error) {
	blob, err := marshalStrokes(strokes)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	_, err = s.db.Exec(
		`UPDATE drawings SET strokes = ?, version = ?, updated_at = ? WHERE book_id = ? AND day = ? AND view_mode = ?`,
		blob, version, now, key.BookID, key.Day, key.ViewMode,
	)
	if err != nil {
		return nil, fmt.Errorf("set drawing strokes: %w", err)
	}
	return s.Get(key)
}

// PutClean upserts a server copy fetched over the wire. A dirty row is
// left untouched: it holds an unacknowledged local edit, and only a sync
// acknowledgment may clear it.
func (s *DrawingStore) PutClean(p model.DrawingPayload) (*model.Drawing, error) {
	blob, err := marshalStrokes(p.Strokes)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	_, err = s.db.Exec(
		`INSERT INTO drawings (book_id, day, view_mode, strokes, version, dirty, cached_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(book_id, day, view_mode) DO UPDATE SET
		   strokes = excluded.strokes, version = excluded.version, dirty = 0,
		   cached_at = excluded.cached_at, updated_at = excluded.updated_at
		 WHERE drawings.dirty = 0`,
		p.BookID, p.Day, p.ViewMode, blob, p.Version, now, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("put drawing: %w", err)
	}
	return s.Get(DrawingKey{BookID: p.BookID, Day: p.Day, ViewMode: p.ViewMode})
}

// ListDirty returns drawings awaiting sync, oldest first. A non-empty
// bookID restricts the result to that book.
func (s *DrawingStore) ListDirty(bookID string) ([]model.Drawing, error) {
	query := `SELECT ` + drawingCols + ` FROM drawings WHERE dirty = 1`
	args := []any{}
	if bookID != "" {
		query += ` AND book_id = ?`
		args = append(args, bookID)
	}
	rows, err := s.db.Query(query+` ORDER BY updated_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list dirty drawings: %w", err)
	}
	defer rows.Close()

	var drawings []model.Drawing
	for rows.Next() {
		d, err := scanDrawing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drawing: %w", err)
		}
		drawings = append(drawings, *d)
	}
	return drawings, rows.Err()
}

// MarkSynced clears the dirty flag only if the drawing has not changed
// since collection.
func (s *DrawingStore) MarkSynced(key DrawingKey, collectedAt time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE drawings SET dirty = 0 WHERE book_id = ? AND day = ? AND view_mode = ? AND updated_at = ?`,
		key.BookID, key.Day, key.ViewMode, collectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("mark drawing synced: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ConfirmSave adopts the server-assigned version and clears dirty, unless
// a local edit landed while the save was in flight.
func (s *DrawingStore) ConfirmSave(key DrawingKey, serverVersion int64, collectedAt time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE drawings SET version = ?, dirty = 0 WHERE book_id = ? AND day = ? AND view_mode = ? AND updated_at = ?`,
		serverVersion, key.BookID, key.Day, key.ViewMode, collectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("confirm drawing save: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ApplyConflict overwrites strokes, version, and timestamp with the
// server's winning copy while leaving the dirty flag untouched.
func (s *DrawingStore) ApplyConflict(p model.DrawingPayload) error {
	blob, err := marshalStrokes(p.Strokes)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE drawings SET strokes = ?, version = ?, updated_at = ? WHERE book_id = ? AND day = ? AND view_mode = ?`,
		blob, p.Version, p.UpdatedAt, p.BookID, p.Day, p.ViewMode,
	)
	if err != nil {
		return fmt.Errorf("apply drawing conflict: %w", err)
	}
	return nil
}

func (s *DrawingStore) Delete(key DrawingKey) error {
	_, err := s.db.Exec(
		`DELETE FROM drawings WHERE book_id = ? AND day = ? AND view_mode = ?`,
		key.BookID, key.Day, key.ViewMode,
	)
	if err != nil {
		return fmt.Errorf("delete drawing: %w", err)
	}
	return nil
}

// DeleteExpired evicts clean cached drawings older than cutoff. Dirty
// drawings are never evicted.
func (s *DrawingStore) DeleteExpired(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM drawings WHERE dirty = 0 AND cached_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired drawings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ColdestKeys returns up to limit evictable drawing keys, coldest first.
func (s *DrawingStore) ColdestKeys(limit int) ([]DrawingKey, error) {
	rows, err := s.db.Query(
		`SELECT book_id, day, view_mode FROM drawings WHERE dirty = 0 ORDER BY hit_count ASC, cached_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("coldest drawings: %w", err)
	}
	defer rows.Close()

	var keys []DrawingKey
	for rows.Next() {
		var k DrawingKey
		if err := rows.Scan(&k.BookID, &k.Day, &k.ViewMode); err != nil {
			return nil, fmt.Errorf("scan drawing key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *DrawingStore) DeleteKeys(keys []DrawingKey) (int64, error) {
	var deleted int64
	for _, k := range keys {
		result, err := s.db.Exec(
			`DELETE FROM drawings WHERE book_id = ? AND day = ? AND view_mode = ?`,
			k.BookID, k.Day, k.ViewMode,
		)
		if err != nil {
			return deleted, fmt.Errorf("delete drawing: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("rows affected: %w", err)
		}
		deleted += n
	}
	return deleted, nil
}

// TotalContentBytes returns the cached stroke payload size used for the
// cache budget.
func (s *DrawingStore) TotalContentBytes() (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(LENGTH(strokes)) FROM drawings`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("drawing content size: %w", err)
	}
	return total.Int64, nil
}
