package person

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"inkbook/internal/clock"
	"inkbook/internal/database"
	"inkbook/internal/model"
	"inkbook/internal/store"
)

func setupService(t *testing.T, deviceID string) (*Service, *store.NoteStore, *clock.Fixed) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := &clock.Fixed{T: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	notes := store.NewNoteStore(db, clk)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(notes, deviceID, clk, logger), notes, clk
}

func event(id, title, recordNumber string) *model.Event {
	return &model.Event{ID: id, BookID: "book1", Title: title, RecordNumber: recordNumber}
}

func TestKeyForRequiresRecordNumber(t *testing.T) {
	if _, ok := KeyFor("Smith, John", ""); ok {
		t.Error("name alone must not produce a key")
	}
	key, ok := KeyFor("  Smith, John ", "R-100")
	if !ok {
		t.Fatal("expected key")
	}
	if key.Name != "smith, john" || key.Record != "r-100" {
		t.Errorf("key = %+v, want normalized", key)
	}

	other, _ := KeyFor("SMITH, JOHN", "r-100 ")
	if key != other {
		t.Errorf("normalization differs: %+v vs %+v", key, other)
	}
}

func TestLoadForEventConvergesNewestGroupContent(t *testing.T) {
	svc, notes, clk := setupService(t, "device-a")

	if _, err := notes.SaveLocal("ev1", "book1", "medical history", "smith, john", "r-100"); err != nil {
		t.Fatalf("seed group note: %v", err)
	}

	clk.Advance(time.Minute)
	note, err := svc.LoadForEvent(event("ev2", "Smith, John", "R-100"))
	if err != nil {
		t.Fatalf("load for event: %v", err)
	}
	if note == nil {
		t.Fatal("expected converged note")
	}
	if note.Content != "medical history" {
		t.Errorf("content = %q, want copied group content", note.Content)
	}
	// The replica duplicates already-durable content; it has nothing of
	// its own to push.
	if note.Dirty {
		t.Error("read-time convergence must not mark dirty")
	}
	if note.PersonRecordKey != "r-100" {
		t.Errorf("person_record_key = %q, want stamped", note.PersonRecordKey)
	}
}

func TestLoadForEventWithoutKeyReadsOwnNote(t *testing.T) {
	svc, notes, _ := setupService(t, "device-a")

	notes.SaveLocal("ev1", "book1", "own content", "", "")

	note, err := svc.LoadForEvent(event("ev1", "Walk-in", ""))
	if err != nil {
		t.Fatalf("load for event: %v", err)
	}
	if note == nil || note.Content != "own content" {
		t.Fatalf("note = %+v, want own content", note)
	}
}

func TestSaveWithSyncPropagatesToGroup(t *testing.T) {
	svc, notes, _ := setupService(t, "device-a")

	notes.SaveLocal("ev1", "book1", "old", "smith, john", "r-100")
	notes.SaveLocal("ev2", "book1", "old", "smith, john", "r-100")

	saved, err := svc.SaveWithSync(event("ev1", "Smith, John", "R-100"), "updated plan")
	if err != nil {
		t.Fatalf("save with sync: %v", err)
	}
	if saved.Content != "updated plan" || !saved.Dirty {
		t.Errorf("saved = %+v", saved)
	}

	other, _ := notes.Get("ev2")
	if other.Content != "updated plan" {
		t.Errorf("group note content = %q, want propagated", other.Content)
	}
	if !other.Dirty {
		t.Error("propagated copy must be dirty so it syncs")
	}
}

func TestSaveWithSyncSkipsActivelyLockedNotes(t *testing.T) {
	svc, notes, clk := setupService(t, "device-a")

	notes.SaveLocal("ev1", "book1", "old", "smith, john", "r-100")
	notes.SaveLocal("ev2", "book1", "old", "smith, john", "r-100")
	notes.SetLock("ev2", "device-b", clk.Now())

	if _, err := svc.SaveWithSync(event("ev1", "Smith, John", "R-100"), "updated"); err != nil {
		t.Fatalf("save with sync: %v", err)
	}

	locked, _ := notes.Get("ev2")
	if locked.Content != "old" {
		t.Errorf("locked note overwritten: %q", locked.Content)
	}

	// Once the lock goes stale the note rejoins propagation.
	clk.Advance(LockTimeout + time.Minute)
	if _, err := svc.SaveWithSync(event("ev1", "Smith, John", "R-100"), "final"); err != nil {
		t.Fatalf("save with sync: %v", err)
	}
	unlocked, _ := notes.Get("ev2")
	if unlocked.Content != "final" {
		t.Errorf("stale-locked note not converged: %q", unlocked.Content)
	}
}

func TestHandleRecordNumberUpdateAdoptsGroupContent(t *testing.T) {
	svc, notes, _ := setupService(t, "device-a")

	notes.SaveLocal("ev1", "book1", "existing notes", "smith, john", "r-100")

	note, err := svc.HandleRecordNumberUpdate(event("ev2", "Smith, John", "R-100"))
	if err != nil {
		t.Fatalf("handle record number update: %v", err)
	}
	if note == nil || note.Content != "existing notes" {
		t.Fatalf("note = %+v, want adopted content", note)
	}
	if !note.Dirty {
		t.Error("adopted content is a local change and must sync")
	}
}

func TestHandleRecordNumberUpdatePromotesOwnContent(t *testing.T) {
	svc, notes, _ := setupService(t, "device-a")

	notes.SaveLocal("ev1", "book1", "fresh content", "", "")

	note, err := svc.HandleRecordNumberUpdate(event("ev1", "Smith, John", "R-100"))
	if err != nil {
		t.Fatalf("handle record number update: %v", err)
	}
	if note.Content != "fresh content" {
		t.Errorf("content = %q, want own content kept", note.Content)
	}
	if note.PersonRecordKey != "r-100" {
		t.Errorf("person_record_key = %q, want stamped", note.PersonRecordKey)
	}
}

func TestLockAcquireConflictAndStaleTakeover(t *testing.T) {
	svcA, notes, clk := setupService(t, "device-a")
	svcB := NewService(notes, "device-b", clk, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ev := event("ev1", "Smith, John", "R-100")

	acquired, err := svcA.AcquireLock(ev)
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	if !acquired {
		t.Fatal("first acquire should succeed")
	}

	// Re-acquiring your own lock is fine.
	if acquired, _ = svcA.AcquireLock(ev); !acquired {
		t.Error("self re-acquire should succeed")
	}

	if acquired, _ = svcB.AcquireLock(ev); acquired {
		t.Error("fresh foreign lock must block acquire")
	}

	locked, _ := svcB.IsLockedByOther("ev1")
	if !locked {
		t.Error("device-b should see the note locked")
	}

	clk.Advance(LockTimeout + time.Second)
	if acquired, _ = svcB.AcquireLock(ev); !acquired {
		t.Error("stale lock must be claimable")
	}
	note, _ := notes.Get("ev1")
	if note.LockedByDevice != "device-b" {
		t.Errorf("holder = %q, want device-b", note.LockedByDevice)
	}
}

func TestReleaseLockRefusesForeignHolder(t *testing.T) {
	svcA, notes, clk := setupService(t, "device-a")

	notes.EnsureRow("ev1", "book1")
	notes.SetLock("ev1", "device-b", clk.Now())

	if err := svcA.ReleaseLock("ev1"); err == nil {
		t.Error("releasing a foreign lock must fail")
	}
}

func TestCleanupStaleLocks(t *testing.T) {
	svc, notes, clk := setupService(t, "device-a")

	notes.EnsureRow("ev1", "book1")
	notes.EnsureRow("ev2", "book1")
	notes.SetLock("ev1", "device-b", clk.Now())
	clk.Advance(LockTimeout + time.Minute)
	notes.SetLock("ev2", "device-c", clk.Now())

	cleared, err := svc.CleanupStaleLocks()
	if err != nil {
		t.Fatalf("cleanup stale locks: %v", err)
	}
	if cleared != 1 {
		t.Errorf("cleared = %d, want 1", cleared)
	}

	fresh, _ := notes.Get("ev2")
	if fresh.LockedByDevice != "device-c" {
		t.Error("fresh lock swept")
	}
}
