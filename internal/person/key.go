// Package person keeps notes belonging to the same real-world person
// convergent across appointment records, and arbitrates edit access to
// them with per-record locks.
package person

import "strings"

// Key identifies a person across events: the normalized display name
// plus the normalized record number.
type Key struct {
	Name   string
	Record string
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// KeyFor derives the person key for a name and record number. The key is
// undefined (ok=false) when the record number is empty: a name alone is
// not enough to link records.
func KeyFor(name, recordNumber string) (Key, bool) {
	record := normalize(recordNumber)
	if record == "" {
		return Key{}, false
	}
	return Key{Name: normalize(name), Record: record}, true
}
