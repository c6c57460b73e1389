package store

import (
	"testing"
	"time"

	"inkbook/internal/model"
)

func strokes(ids ...string) []model.Stroke {
	out := make([]model.Stroke, len(ids))
	for i, id := range ids {
		out[i] = model.Stroke{ID: id, Points: []model.Point{{X: 1, Y: 2}}, Width: 2, Color: "#000"}
	}
	return out
}

func TestDrawingSaveLocalRoundTrip(t *testing.T) {
	db, clk := setupTestDB(t)
	drawings := NewDrawingStore(db, clk)
	key := DrawingKey{BookID: "book1", Day: "2026-03-10", ViewMode: "day"}

	drawing, err := drawings.SaveLocal(key, strokes("s1", "s2"))
	if err != nil {
		t.Fatalf("save drawing: %v", err)
	}
	if !drawing.Dirty {
		t.Error("local save should be dirty")
	}
	if len(drawing.Strokes) != 2 {
		t.Fatalf("strokes = %d, want 2", len(drawing.Strokes))
	}
	if drawing.Strokes[0].ID != "s1" {
		t.Errorf("stroke id = %q, want s1", drawing.Strokes[0].ID)
	}

	got, err := drawings.Get(key)
	if err != nil {
		t.Fatalf("get drawing: %v", err)
	}
	if got == nil || len(got.Strokes) != 2 {
		t.Fatalf("round trip lost strokes: %+v", got)
	}

	missing, err := drawings.Get(DrawingKey{BookID: "book1", Day: "2026-03-11", ViewMode: "day"})
	if err != nil {
		t.Fatalf("get missing drawing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil, got %+v", missing)
	}
}

func TestDrawingSetStrokesAndVersionKeepsDirty(t *testing.T) {
	db, clk := setupTestDB(t)
	drawings := NewDrawingStore(db, clk)
	key := DrawingKey{BookID: "book1", Day: "2026-03-10", ViewMode: "week"}

	drawings.SaveLocal(key, strokes("local"))

	merged, err := drawings.SetStrokesAndVersion(key, strokes("server", "local"), 9)
	if err != nil {
		t.Fatalf("set strokes: %v", err)
	}
	if !merged.Dirty {
		t.Error("mid-conflict update must stay dirty")
	}
	if merged.Version != 9 {
		t.Errorf("version = %d, want 9", merged.Version)
	}
	if len(merged.Strokes) != 2 {
		t.Errorf("strokes = %d, want 2", len(merged.Strokes))
	}
}

func TestDrawingPutCleanSkipsDirtyRows(t *testing.T) {
	db, clk := setupTestDB(t)
	drawings := NewDrawingStore(db, clk)
	key := DrawingKey{BookID: "book1", Day: "2026-03-10", ViewMode: "day"}

	local, err := drawings.SaveLocal(key, strokes("local"))
	if err != nil {
		t.Fatalf("save drawing: %v", err)
	}

	drawing, err := drawings.PutClean(model.DrawingPayload{
		BookID: key.BookID, Day: key.Day, ViewMode: key.ViewMode,
		Strokes: strokes("server"), Version: 4, UpdatedAt: clk.Now(),
	})
	if err != nil {
		t.Fatalf("put clean: %v", err)
	}
	if len(drawing.Strokes) != 1 || drawing.Strokes[0].ID != "local" {
		t.Errorf("strokes = %+v, unsynced ink overwritten", drawing.Strokes)
	}
	if !drawing.Dirty {
		t.Error("dirty flag cleared without a sync acknowledgment")
	}

	if _, err := drawings.MarkSynced(key, local.UpdatedAt); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	drawing, err = drawings.PutClean(model.DrawingPayload{
		BookID: key.BookID, Day: key.Day, ViewMode: key.ViewMode,
		Strokes: strokes("server"), Version: 4, UpdatedAt: clk.Now(),
	})
	if err != nil {
		t.Fatalf("put clean after ack: %v", err)
	}
	if drawing.Dirty || drawing.Strokes[0].ID != "server" {
		t.Errorf("drawing = %+v, want clean server copy", drawing)
	}
}

func TestDrawingConfirmSaveGuardsConcurrentEdit(t *testing.T) {
	db, clk := setupTestDB(t)
	drawings := NewDrawingStore(db, clk)
	key := DrawingKey{BookID: "book1", Day: "2026-03-10", ViewMode: "day"}

	drawing, _ := drawings.SaveLocal(key, strokes("s1"))
	collectedAt := drawing.UpdatedAt

	clk.Advance(time.Second)
	drawings.SaveLocal(key, strokes("s1", "s2"))

	confirmed, err := drawings.ConfirmSave(key, 3, collectedAt)
	if err != nil {
		t.Fatalf("confirm save: %v", err)
	}
	if confirmed {
		t.Error("stale confirmation must not clear dirty")
	}

	got, _ := drawings.Get(key)
	if !got.Dirty {
		t.Error("edited drawing must stay dirty")
	}

	confirmed, _ = drawings.ConfirmSave(key, 3, got.UpdatedAt)
	if !confirmed {
		t.Error("matching confirmation should clear dirty")
	}
	got, _ = drawings.Get(key)
	if got.Version != 3 {
		t.Errorf("version = %d, want 3", got.Version)
	}
}

func TestDrawingEvictionSkipsDirty(t *testing.T) {
	db, clk := setupTestDB(t)
	drawings := NewDrawingStore(db, clk)

	clean := DrawingKey{BookID: "book1", Day: "2026-01-01", ViewMode: "day"}
	dirty := DrawingKey{BookID: "book1", Day: "2026-01-02", ViewMode: "day"}

	drawings.PutClean(model.DrawingPayload{
		BookID: clean.BookID, Day: clean.Day, ViewMode: clean.ViewMode,
		Strokes: strokes("a"), Version: 1, UpdatedAt: clk.Now(),
	})
	drawings.SaveLocal(dirty, strokes("b"))

	clk.Advance(40 * 24 * time.Hour)
	removed, err := drawings.DeleteExpired(clk.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if d, _ := drawings.Get(dirty); d == nil {
		t.Fatal("dirty drawing must never be evicted")
	}

	keys, err := drawings.ColdestKeys(10)
	if err != nil {
		t.Fatalf("coldest keys: %v", err)
	}
	for _, k := range keys {
		if k == dirty {
			t.Error("dirty drawing offered for LRU eviction")
		}
	}
}
