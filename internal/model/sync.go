package model

import (
	"encoding/json"
	"time"
)

// Table names used on the wire and in change dispatch.
const (
	TableEvents   = "events"
	TableNotes    = "notes"
	TableDrawings = "drawings"
)

// Change operations.
const (
	OpUpdate = "update"
	OpDelete = "delete"
)

// SyncChange is the unit exchanged with the remote store.
type SyncChange struct {
	Table     string          `json:"table"`
	RecordID  string          `json:"record_id"`
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Version   int64           `json:"version"`
}

// SyncConflict reports a record the server refused because its copy is
// based on a different version.
type SyncConflict struct {
	Table           string          `json:"table"`
	RecordID        string          `json:"record_id"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
	LocalTimestamp  time.Time       `json:"local_timestamp"`
	ServerPayload   json.RawMessage `json:"server_payload"`
}

// SyncRequest is the body of POST /sync/full.
type SyncRequest struct {
	Changes    []SyncChange `json:"changes"`
	LastSyncAt *time.Time   `json:"last_sync_at,omitempty"`
}

// SyncResponse is the reply to a sync push/pull/full call.
type SyncResponse struct {
	Success        bool           `json:"success"`
	ChangesApplied int            `json:"changes_applied"`
	Conflicts      []SyncConflict `json:"conflicts,omitempty"`
	ServerChanges  []SyncChange   `json:"server_changes,omitempty"`
	ServerTime     time.Time      `json:"server_time"`
}

// NotePayload is the wire form of a note record.
type NotePayload struct {
	EventID   string    `json:"event_id"`
	BookID    string    `json:"book_id"`
	Content   string    `json:"content"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DrawingPayload is the wire form of a drawing record.
type DrawingPayload struct {
	BookID    string    `json:"book_id"`
	Day       string    `json:"day"`
	ViewMode  string    `json:"view_mode"`
	Strokes   []Stroke  `json:"strokes"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventPayload is the wire form of an event record.
type EventPayload struct {
	ID              string    `json:"id"`
	BookID          string    `json:"book_id"`
	Title           string    `json:"title"`
	RecordNumber    string    `json:"record_number"`
	EventType       string    `json:"event_type"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	IsRemoved       bool      `json:"is_removed"`
	RemovalReason   string    `json:"removal_reason"`
	OriginalEventID *string   `json:"original_event_id"`
	NewEventID      *string   `json:"new_event_id"`
	Version         int64     `json:"version"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DrawingID builds the composite record ID drawings use in sync changes.
func DrawingID(bookID, day, viewMode string) string {
	return bookID + "/" + day + "/" + viewMode
}
