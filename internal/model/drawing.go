package model

import "time"

// Stroke is one pen stroke in a schedule drawing. ID is assigned locally
// when the stroke is drawn and is stable across sync round-trips, so
// conflict merges can deduplicate instead of doubling ink.
type Stroke struct {
	ID     string  `json:"id"`
	Points []Point `json:"points"`
	Width  float64 `json:"width"`
	Color  string  `json:"color"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Drawing is a handwriting overlay keyed by (book, effective date, view
// mode). Day uses the "2006-01-02" form.
type Drawing struct {
	BookID    string    `json:"book_id"`
	Day       string    `json:"day"`
	ViewMode  string    `json:"view_mode"`
	Strokes   []Stroke  `json:"strokes"`
	Version   int64     `json:"version"`
	Dirty     bool      `json:"dirty"`
	CachedAt  time.Time `json:"cached_at"`
	HitCount  int64     `json:"hit_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MergeStrokes appends local strokes after server strokes, dropping local
// strokes whose ID already appears server-side. Append-only: no ink from
// either side is discarded.
func MergeStrokes(server, local []Stroke) []Stroke {
	seen := make(map[string]struct{}, len(server))
	for _, s := range server {
		if s.ID != "" {
			seen[s.ID] = struct{}{}
		}
	}
	merged := make([]Stroke, 0, len(server)+len(local))
	merged = append(merged, server...)
	for _, s := range local {
		if s.ID != "" {
			if _, dup := seen[s.ID]; dup {
				continue
			}
		}
		merged = append(merged, s)
	}
	return merged
}
