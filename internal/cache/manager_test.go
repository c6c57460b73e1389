package cache

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

type fixture struct {
	manager  *Manager
	notes    *store.NoteStore
	drawings *store.DrawingStore
	policy   *store.PolicyStore
	clk      *clock.Fixed
}

func setupManager(t *testing.T, policy model.CachePolicy) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := &clock.Fixed{T: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	notes := store.NewNoteStore(db, clk)
	drawings := store.NewDrawingStore(db, clk)
	ps := store.NewPolicyStore(db)
	if err := ps.Update(policy); err != nil {
		t.Fatalf("seed policy: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		manager:  NewManager(notes, drawings, ps, clk, logger),
		notes:    notes,
		drawings: drawings,
		policy:   ps,
		clk:      clk,
	}
}

func putCleanNote(t *testing.T, f *fixture, eventID, content string) {
	t.Helper()
	_, err := f.notes.PutClean(model.NotePayload{
		EventID: eventID, BookID: "book1", Content: content, Version: 1, UpdatedAt: f.clk.Now(),
	})
	if err != nil {
		t.Fatalf("put clean note: %v", err)
	}
}

func TestEvictExpiredRemovesOldCleanEntries(t *testing.T) {
	f := setupManager(t, model.CachePolicy{MaxCacheSizeMB: 100, CacheDurationDays: 30, AutoCleanup: true})

	putCleanNote(t, f, "old-clean", "stale content")
	if _, err := f.notes.SaveLocal("old-dirty", "book1", "unsynced", "", ""); err != nil {
		t.Fatalf("save dirty note: %v", err)
	}
	if _, err := f.drawings.SaveLocal(store.DrawingKey{BookID: "book1", Day: "2026-01-01", ViewMode: "day"}, nil); err != nil {
		t.Fatalf("save drawing: %v", err)
	}

	f.clk.Advance(40 * 24 * time.Hour)
	putCleanNote(t, f, "fresh-clean", "recent content")

	removed, err := f.manager.EvictExpired()
	if err != nil {
		t.Fatalf("evict expired: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if note, _ := f.notes.Get("old-clean"); note != nil {
		t.Error("expired clean note survived")
	}
	if note, _ := f.notes.Get("old-dirty"); note == nil {
		t.Error("dirty note evicted")
	}
	if note, _ := f.notes.Get("fresh-clean"); note == nil {
		t.Error("fresh note evicted")
	}
}

func TestEvictLRUTerminatesWhenOnlyDirtyRemains(t *testing.T) {
	f := setupManager(t, model.CachePolicy{MaxCacheSizeMB: 0, CacheDurationDays: 30, AutoCleanup: true})

	f.notes.SaveLocal("d1", "book1", "unsynced edit one", "", "")
	f.notes.SaveLocal("d2", "book1", "unsynced edit two", "", "")

	removed, err := f.manager.EvictLRU(0)
	if err != nil {
		t.Fatalf("evict lru: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	if note, _ := f.notes.Get("d1"); note == nil {
		t.Error("dirty note evicted under size pressure")
	}
}

func TestEvictLRUShrinksToTarget(t *testing.T) {
	f := setupManager(t, model.CachePolicy{MaxCacheSizeMB: 0, CacheDurationDays: 30, AutoCleanup: true})

	putCleanNote(t, f, "cold", "aaaa")
	putCleanNote(t, f, "warm", "bbbb")
	f.notes.TouchHit("warm")
	f.notes.SaveLocal("dirty", "book1", "keep me", "", "")

	removed, err := f.manager.EvictLRU(0)
	if err != nil {
		t.Fatalf("evict lru: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if note, _ := f.notes.Get("dirty"); note == nil {
		t.Error("dirty note evicted")
	}
}

func TestStartupCleanupHonorsAutoCleanupFlag(t *testing.T) {
	f := setupManager(t, model.CachePolicy{MaxCacheSizeMB: 0, CacheDurationDays: 30, AutoCleanup: false})

	putCleanNote(t, f, "old", "content")
	f.clk.Advance(60 * 24 * time.Hour)

	if err := f.manager.StartupCleanup(); err != nil {
		t.Fatalf("startup cleanup: %v", err)
	}
	if note, _ := f.notes.Get("old"); note == nil {
		t.Error("cleanup ran with auto_cleanup disabled")
	}

	policy, _ := f.policy.Get()
	if policy.LastCleanupAt != nil {
		t.Error("last_cleanup_at stamped without running")
	}
}

func TestEnsureBudgetEvictsAfterOversizedWrite(t *testing.T) {
	f := setupManager(t, model.CachePolicy{MaxCacheSizeMB: 0, CacheDurationDays: 30, AutoCleanup: true})

	putCleanNote(t, f, "bulky", "a very large cached note body")
	f.notes.SaveLocal("dirty", "book1", "unsynced", "", "")

	if err := f.manager.EnsureBudget(); err != nil {
		t.Fatalf("ensure budget: %v", err)
	}

	if note, _ := f.notes.Get("bulky"); note != nil {
		t.Error("over-budget clean entry survived")
	}
	if note, _ := f.notes.Get("dirty"); note == nil {
		t.Error("dirty note evicted by budget check")
	}

	policy, _ := f.policy.Get()
	if policy.LastCleanupAt == nil {
		t.Error("last_cleanup_at not stamped")
	}
}
