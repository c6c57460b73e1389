// Package syncengine collects locally dirty records, pushes them to the
// remote store, applies server-side changes, and resolves conflicts with
// a newest-timestamp-wins policy.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inkbook/internal/model"
	"inkbook/internal/remote"
	"inkbook/internal/store"
)

// CollectedChange pairs an outgoing change with the record's timestamp at
// collection time. The timestamp guards the dirty-flag clear: if a local
// edit lands between send and acknowledgment, the timestamps no longer
// match and the record stays dirty.
type CollectedChange struct {
	Change      model.SyncChange
	CollectedAt time.Time
}

// Result summarizes one full sync cycle.
type Result struct {
	Pushed         int
	ChangesApplied int
	Conflicts      int
	ServerChanges  int
	MarkedSynced   int
}

type Engine struct {
	events    *store.EventStore
	notes     *store.NoteStore
	drawings  *store.DrawingStore
	syncState *store.SyncStateStore
	remote    *remote.Client
	logger    *slog.Logger
}

func New(events *store.EventStore, notes *store.NoteStore, drawings *store.DrawingStore, syncState *store.SyncStateStore, rc *remote.Client, logger *slog.Logger) *Engine {
	return &Engine{
		events:    events,
		notes:     notes,
		drawings:  drawings,
		syncState: syncState,
		remote:    rc,
		logger:    logger,
	}
}

// CollectDirty gathers everything awaiting push, optionally scoped to
// one book. Each dirty event is bundled with its note so an event update
// and its handwriting travel in the same batch; leftover dirty notes
// follow, then dirty drawings. The bundling order is an optimization for
// batch coherence, not a correctness requirement.
func (e *Engine) CollectDirty(bookID string) ([]CollectedChange, error) {
	var changes []CollectedChange
	bundledNotes := make(map[string]bool)

	events, err := e.events.ListDirty(bookID)
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		change, err := eventChange(&event)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)

		note, err := e.notes.Get(event.ID)
		if err != nil {
			return nil, err
		}
		if note != nil && note.Dirty {
			noteCh, err := noteChange(note)
			if err != nil {
				return nil, err
			}
			changes = append(changes, noteCh)
			bundledNotes[note.EventID] = true
		}
	}

	notes, err := e.notes.ListDirty(bookID)
	if err != nil {
		return nil, err
	}
	for _, note := range notes {
		if bundledNotes[note.EventID] {
			continue
		}
		change, err := noteChange(&note)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}

	drawings, err := e.drawings.ListDirty(bookID)
	if err != nil {
		return nil, err
	}
	for _, drawing := range drawings {
		change, err := drawingChange(&drawing)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}

	return changes, nil
}

// FullSync runs one push/pull cycle: send the dirty batch (optionally
// scoped to one book) with the last-sync cursor, resolve returned
// conflicts, apply server changes, clear dirty flags for cleanly applied
// pushes, and advance the cursor to the server's time.
func (e *Engine) FullSync(ctx context.Context, bookID string) (*Result, error) {
	collected, err := e.CollectDirty(bookID)
	if err != nil {
		return nil, fmt.Errorf("collect dirty: %w", err)
	}

	cursor, err := e.syncState.LastSyncAt()
	if err != nil {
		return nil, err
	}

	req := model.SyncRequest{LastSyncAt: cursor}
	for _, c := range collected {
		req.Changes = append(req.Changes, c.Change)
	}

	resp, err := e.remote.FullSync(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("full sync: %w", err)
	}

	result := &Result{
		Pushed:         len(collected),
		ChangesApplied: resp.ChangesApplied,
		Conflicts:      len(resp.Conflicts),
		ServerChanges:  len(resp.ServerChanges),
	}

	conflicted := make(map[string]bool, len(resp.Conflicts))
	for _, conflict := range resp.Conflicts {
		conflicted[conflict.Table+"/"+conflict.RecordID] = true
		if err := e.resolveConflict(conflict); err != nil {
			e.logger.Error("conflict resolution failed", "table", conflict.Table, "record_id", conflict.RecordID, "error", err)
		}
	}

	if err := e.ApplyServerChanges(resp.ServerChanges); err != nil {
		return result, err
	}

	marked, err := e.MarkSynced(collected, conflicted)
	if err != nil {
		return result, err
	}
	result.MarkedSynced = marked

	if err := e.syncState.SetLastSyncAt(resp.ServerTime); err != nil {
		return result, err
	}

	e.logger.Info("sync cycle complete",
		"pushed", result.Pushed, "applied", result.ChangesApplied,
		"conflicts", result.Conflicts, "server_changes", result.ServerChanges)
	return result, nil
}

// resolveConflict applies newest-timestamp-wins. When the server's copy
// is newer, its payload overwrites the local record — but the record is
// not marked synced in either branch, so the losing side keeps its place
// in the next push rather than being silently clobbered.
func (e *Engine) resolveConflict(conflict model.SyncConflict) error {
	if !conflict.ServerTimestamp.After(conflict.LocalTimestamp) {
		// Local copy is newest; leave it dirty for the next cycle.
		return nil
	}

	switch conflict.Table {
	case model.TableEvents:
		var p model.EventPayload
		if err := json.Unmarshal(conflict.ServerPayload, &p); err != nil {
			return fmt.Errorf("decode event conflict payload: %w", err)
		}
		return e.events.ApplyConflict(p)
	case model.TableNotes:
		var p model.NotePayload
		if err := json.Unmarshal(conflict.ServerPayload, &p); err != nil {
			return fmt.Errorf("decode note conflict payload: %w", err)
		}
		return e.notes.ApplyConflict(p)
	case model.TableDrawings:
		var p model.DrawingPayload
		if err := json.Unmarshal(conflict.ServerPayload, &p); err != nil {
			return fmt.Errorf("decode drawing conflict payload: %w", err)
		}
		return e.drawings.ApplyConflict(p)
	default:
		e.logger.Warn("conflict for unknown table skipped", "table", conflict.Table)
		return nil
	}
}

// ApplyServerChanges writes remote edits into the local store. Unknown
// tables are logged and skipped; one bad change never fails the batch.
func (e *Engine) ApplyServerChanges(changes []model.SyncChange) error {
	for _, change := range changes {
		if err := e.applyServerChange(change); err != nil {
			return fmt.Errorf("apply server change %s/%s: %w", change.Table, change.RecordID, err)
		}
	}
	return nil
}

func (e *Engine) applyServerChange(change model.SyncChange) error {
	switch change.Table {
	case model.TableEvents:
		if change.Operation == model.OpDelete {
			return e.events.ApplyServerDelete(change.RecordID)
		}
		var p model.EventPayload
		if err := json.Unmarshal(change.Payload, &p); err != nil {
			return fmt.Errorf("decode event payload: %w", err)
		}
		return e.events.ApplyServer(p)

	case model.TableNotes:
		if change.Operation == model.OpDelete {
			return e.notes.Delete(change.RecordID)
		}
		var p model.NotePayload
		if err := json.Unmarshal(change.Payload, &p); err != nil {
			return fmt.Errorf("decode note payload: %w", err)
		}
		_, err := e.notes.PutClean(p)
		return err

	case model.TableDrawings:
		if change.Operation == model.OpDelete {
			key, err := drawingKeyFromID(change.RecordID)
			if err != nil {
				return err
			}
			return e.drawings.Delete(key)
		}
		var p model.DrawingPayload
		if err := json.Unmarshal(change.Payload, &p); err != nil {
			return fmt.Errorf("decode drawing payload: %w", err)
		}
		_, err := e.drawings.PutClean(p)
		return err

	default:
		e.logger.Warn("server change for unknown table skipped", "table", change.Table, "record_id", change.RecordID)
		return nil
	}
}

// MarkSynced clears dirty flags for pushed changes that did not conflict,
// guarded by the collection timestamp so edits made while the push was in
// flight stay dirty. Returns how many records were actually cleared.
func (e *Engine) MarkSynced(collected []CollectedChange, conflicted map[string]bool) (int, error) {
	marked := 0
	for _, c := range collected {
		if conflicted[c.Change.Table+"/"+c.Change.RecordID] {
			continue
		}

		var (
			cleared bool
			err     error
		)
		switch c.Change.Table {
		case model.TableEvents:
			cleared, err = e.events.MarkSynced(c.Change.RecordID, c.CollectedAt)
		case model.TableNotes:
			cleared, err = e.notes.MarkSynced(c.Change.RecordID, c.CollectedAt)
		case model.TableDrawings:
			var key store.DrawingKey
			key, err = drawingKeyFromID(c.Change.RecordID)
			if err == nil {
				cleared, err = e.drawings.MarkSynced(key, c.CollectedAt)
			}
		}
		if err != nil {
			return marked, err
		}
		if cleared {
			marked++
		}
	}
	return marked, nil
}

func eventChange(event *model.Event) (CollectedChange, error) {
	payload, err := json.Marshal(model.EventPayload{
		ID:              event.ID,
		BookID:          event.BookID,
		Title:           event.Title,
		RecordNumber:    event.RecordNumber,
		EventType:       event.EventType,
		StartTime:       event.StartTime,
		EndTime:         event.EndTime,
		IsRemoved:       event.IsRemoved,
		RemovalReason:   event.RemovalReason,
		OriginalEventID: event.OriginalEventID,
		NewEventID:      event.NewEventID,
		Version:         event.Version,
		UpdatedAt:       event.UpdatedAt,
	})
	if err != nil {
		return CollectedChange{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return CollectedChange{
		Change: model.SyncChange{
			Table:     model.TableEvents,
			RecordID:  event.ID,
			Operation: model.OpUpdate,
			Payload:   payload,
			Timestamp: event.UpdatedAt,
			Version:   event.Version,
		},
		CollectedAt: event.UpdatedAt,
	}, nil
}

func noteChange(note *model.Note) (CollectedChange, error) {
	payload, err := json.Marshal(model.NotePayload{
		EventID:   note.EventID,
		BookID:    note.BookID,
		Content:   note.Content,
		Version:   note.Version,
		UpdatedAt: note.UpdatedAt,
	})
	if err != nil {
		return CollectedChange{}, fmt.Errorf("marshal note payload: %w", err)
	}
	return CollectedChange{
		Change: model.SyncChange{
			Table:     model.TableNotes,
			RecordID:  note.EventID,
			Operation: model.OpUpdate,
			Payload:   payload,
			Timestamp: note.UpdatedAt,
			Version:   note.Version,
		},
		CollectedAt: note.UpdatedAt,
	}, nil
}

func drawingChange(drawing *model.Drawing) (CollectedChange, error) {
	payload, err := json.Marshal(model.DrawingPayload{
		BookID:    drawing.BookID,
		Day:       drawing.Day,
		ViewMode:  drawing.ViewMode,
		Strokes:   drawing.Strokes,
		Version:   drawing.Version,
		UpdatedAt: drawing.UpdatedAt,
	})
	if err != nil {
		return CollectedChange{}, fmt.Errorf("marshal drawing payload: %w", err)
	}
	return CollectedChange{
		Change: model.SyncChange{
			Table:     model.TableDrawings,
			RecordID:  model.DrawingID(drawing.BookID, drawing.Day, drawing.ViewMode),
			Operation: model.OpUpdate,
			Payload:   payload,
			Timestamp: drawing.UpdatedAt,
			Version:   drawing.Version,
		},
		CollectedAt: drawing.UpdatedAt,
	}, nil
}

func drawingKeyFromID(recordID string) (store.DrawingKey, error) {
	parts := strings.SplitN(recordID, "/", 3)
	if len(parts) != 3 {
		return store.DrawingKey{}, fmt.Errorf("malformed drawing record id %q", recordID)
	}
	return store.DrawingKey{BookID: parts[0], Day: parts[1], ViewMode: parts[2]}, nil
}
