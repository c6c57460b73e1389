package model

import "time"

// Note holds the handwritten content for exactly one Event. PersonNameKey
// and PersonRecordKey form the PersonKey linking Notes that belong to the
// same real-world person across multiple Events; both are empty when the
// Event has no record number.
type Note struct {
	EventID         string     `json:"event_id"`
	BookID          string     `json:"book_id"`
	Content         string     `json:"content"`
	Version         int64      `json:"version"`
	Dirty           bool       `json:"dirty"`
	CachedAt        time.Time  `json:"cached_at"`
	HitCount        int64      `json:"hit_count"`
	PersonNameKey   string     `json:"person_name_key"`
	PersonRecordKey string     `json:"person_record_key"`
	LockedByDevice  string     `json:"locked_by_device"`
	LockedAt        *time.Time `json:"locked_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasPersonKey reports whether the note is tied to a person group.
func (n *Note) HasPersonKey() bool {
	return n.PersonRecordKey != ""
}
