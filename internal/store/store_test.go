package store

import (
	"database/sql"
	"testing"
	"time"

	"inkbook/internal/clock"
	"inkbook/internal/database"
	"inkbook/internal/model"
)

func setupTestDB(t *testing.T) (*sql.DB, *clock.Fixed) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := &clock.Fixed{T: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	return db, clk
}

func noteServerCopy(eventID, bookID, content string, version int64, updatedAt time.Time) model.NotePayload {
	return model.NotePayload{
		EventID:   eventID,
		BookID:    bookID,
		Content:   content,
		Version:   version,
		UpdatedAt: updatedAt,
	}
}

func mustCreateBook(t *testing.T, books *BookStore, name string) string {
	t.Helper()
	book, err := books.Create(name)
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return book.ID
}
