package store

import (
	"testing"
	"time"
)

func TestEventCreateIsDirty(t *testing.T) {
	db, clk := setupTestDB(t)
	books := NewBookStore(db, clk)
	events := NewEventStore(db, clk)
	bookID := mustCreateBook(t, books, "Book")

	start := clk.Now().Add(time.Hour)
	event, err := events.Create(bookID, "Smith, John", "R-100", "checkup", start, start.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if !event.Dirty {
		t.Error("new event should be dirty")
	}
	if event.IsRemoved {
		t.Error("new event should not be removed")
	}
	if event.RecordNumber != "R-100" {
		t.Errorf("record_number = %q, want %q", event.RecordNumber, "R-100")
	}
}

func TestEventRemoveIsSoft(t *testing.T) {
	db, clk := setupTestDB(t)
	books := NewBookStore(db, clk)
	events := NewEventStore(db, clk)
	bookID := mustCreateBook(t, books, "Book")

	start := clk.Now()
	event, _ := events.Create(bookID, "Jones, Mary", "", "", start, start.Add(time.Hour))

	if err := events.Remove(event.ID, "cancelled"); err != nil {
		t.Fatalf("remove event: %v", err)
	}

	got, err := events.GetByID(event.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got == nil {
		t.Fatal("soft-removed event should still exist")
	}
	if !got.IsRemoved {
		t.Error("expected is_removed")
	}
	if got.RemovalReason != "cancelled" {
		t.Errorf("removal_reason = %q, want %q", got.RemovalReason, "cancelled")
	}

	visible, err := events.ListByBook(bookID, false)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(visible) != 0 {
		t.Errorf("removed event still listed: %d", len(visible))
	}

	all, _ := events.ListByBook(bookID, true)
	if len(all) != 1 {
		t.Errorf("len = %d, want 1", len(all))
	}
}

func TestEventRescheduleBuildsChain(t *testing.T) {
	db, clk := setupTestDB(t)
	books := NewBookStore(db, clk)
	events := NewEventStore(db, clk)
	notes := NewNoteStore(db, clk)
	bookID := mustCreateBook(t, books, "Book")

	start := clk.Now()
	orig, _ := events.Create(bookID, "Smith, John", "R-100", "checkup", start, start.Add(time.Hour))
	if _, err := notes.SaveLocal(orig.ID, bookID, "allergy to penicillin", "smith, john", "R-100"); err != nil {
		t.Fatalf("save note: %v", err)
	}

	clk.Advance(time.Minute)
	newStart := start.Add(48 * time.Hour)
	replacement, err := events.Reschedule(orig.ID, newStart, newStart.Add(time.Hour))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	if replacement.OriginalEventID == nil || *replacement.OriginalEventID != orig.ID {
		t.Errorf("original_event_id = %v, want %q", replacement.OriginalEventID, orig.ID)
	}
	if !replacement.StartTime.Equal(newStart) {
		t.Errorf("start = %v, want %v", replacement.StartTime, newStart)
	}
	if !replacement.Dirty {
		t.Error("replacement should be dirty")
	}

	removed, _ := events.GetByID(orig.ID)
	if !removed.IsRemoved {
		t.Error("original should be soft-removed")
	}
	if removed.RemovalReason != "rescheduled" {
		t.Errorf("removal_reason = %q, want %q", removed.RemovalReason, "rescheduled")
	}
	if removed.NewEventID == nil || *removed.NewEventID != replacement.ID {
		t.Errorf("new_event_id = %v, want %q", removed.NewEventID, replacement.ID)
	}

	// The handwriting travels with the replacement and the original keeps
	// its own copy.
	copied, err := notes.Get(replacement.ID)
	if err != nil {
		t.Fatalf("get copied note: %v", err)
	}
	if copied == nil {
		t.Fatal("expected note on replacement")
	}
	if copied.Content != "allergy to penicillin" {
		t.Errorf("content = %q, want carried-over content", copied.Content)
	}
	if copied.PersonRecordKey != "R-100" {
		t.Errorf("person_record_key = %q, want %q", copied.PersonRecordKey, "R-100")
	}
	origNote, _ := notes.Get(orig.ID)
	if origNote == nil || origNote.Content != "allergy to penicillin" {
		t.Error("original note should remain")
	}
}

func TestEventSetRecordNumberReportsPrevious(t *testing.T) {
	db, clk := setupTestDB(t)
	books := NewBookStore(db, clk)
	events := NewEventStore(db, clk)
	bookID := mustCreateBook(t, books, "Book")

	start := clk.Now()
	event, _ := events.Create(bookID, "Smith, John", "", "", start, start.Add(time.Hour))

	previous, updated, err := events.SetRecordNumber(event.ID, "R-200")
	if err != nil {
		t.Fatalf("set record number: %v", err)
	}
	if previous != "" {
		t.Errorf("previous = %q, want empty", previous)
	}
	if updated.RecordNumber != "R-200" {
		t.Errorf("record_number = %q, want %q", updated.RecordNumber, "R-200")
	}
}

func TestEventListDirtyScopedByBook(t *testing.T) {
	db, clk := setupTestDB(t)
	books := NewBookStore(db, clk)
	events := NewEventStore(db, clk)
	bookA := mustCreateBook(t, books, "A")
	bookB := mustCreateBook(t, books, "B")

	start := clk.Now()
	events.Create(bookA, "One", "", "", start, start.Add(time.Hour))
	events.Create(bookB, "Two", "", "", start, start.Add(time.Hour))

	all, err := events.ListDirty("")
	if err != nil {
		t.Fatalf("list dirty: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len = %d, want 2", len(all))
	}

	scoped, err := events.ListDirty(bookA)
	if err != nil {
		t.Fatalf("list dirty scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].BookID != bookA {
		t.Errorf("scoped list wrong: %+v", scoped)
	}
}

func TestEventMarkSyncedGuardsConcurrentEdit(t *testing.T) {
	db, clk := setupTestDB(t)
	books := NewBookStore(db, clk)
	events := NewEventStore(db, clk)
	bookID := mustCreateBook(t, books, "Book")

	start := clk.Now()
	event, _ := events.Create(bookID, "Smith, John", "", "", start, start.Add(time.Hour))
	collectedAt := event.UpdatedAt

	// An edit lands while the push is in flight.
	clk.Advance(time.Second)
	if _, err := events.Update(event.ID, "Smith, John Jr", "", ""); err != nil {
		t.Fatalf("update event: %v", err)
	}

	cleared, err := events.MarkSynced(event.ID, collectedAt)
	if err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if cleared {
		t.Error("stale acknowledgment must not clear dirty")
	}

	got, _ := events.GetByID(event.ID)
	if !got.Dirty {
		t.Error("edited event must stay dirty")
	}

	// Acknowledging the current timestamp clears it.
	cleared, err = events.MarkSynced(event.ID, got.UpdatedAt)
	if err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if !cleared {
		t.Error("matching acknowledgment should clear dirty")
	}
}

func TestEventApplyServerDelete(t *testing.T) {
	db, clk := setupTestDB(t)
	books := NewBookStore(db, clk)
	events := NewEventStore(db, clk)
	bookID := mustCreateBook(t, books, "Book")

	start := clk.Now()
	event, _ := events.Create(bookID, "Smith, John", "", "", start, start.Add(time.Hour))

	if err := events.ApplyServerDelete(event.ID); err != nil {
		t.Fatalf("apply server delete: %v", err)
	}

	got, _ := events.GetByID(event.ID)
	if !got.IsRemoved {
		t.Error("expected is_removed")
	}
	if got.Dirty {
		t.Error("server delete lands clean")
	}
}
