package model

import "time"

// Event is a single appointment in a Book. Removal is a soft state and
// rescheduling never mutates times in place: the original is soft-removed
// and a new Event is created, linked through OriginalEventID/NewEventID,
// preserving the full history of time changes.
type Event struct {
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
	Dirty           bool      `json:"dirty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
