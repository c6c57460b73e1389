// Package content is the cache-first access layer for note and drawing
// content. Reads hit the local store before they touch the network;
// writes always land locally first and sync later.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"inkbook/internal/cache"
	"inkbook/internal/guard"
	"inkbook/internal/model"
	"inkbook/internal/person"
	"inkbook/internal/remote"
	"inkbook/internal/store"
)

// preloadBatchSize caps how many records one preload round fetches.
const preloadBatchSize = 50

// conflictRetryDelay spaces the bounded drawing conflict retries.
const conflictRetryDelay = 100 * time.Millisecond

type Service struct {
	notes    *store.NoteStore
	drawings *store.DrawingStore
	remote   *remote.Client
	cache    *cache.Manager
	sharing  *person.Service
	queue    *guard.Queue
	gens     *guard.Generations
	logger   *slog.Logger
}

func NewService(notes *store.NoteStore, drawings *store.DrawingStore, rc *remote.Client, cm *cache.Manager, sharing *person.Service, logger *slog.Logger) *Service {
	return &Service{
		notes:    notes,
		drawings: drawings,
		remote:   rc,
		cache:    cm,
		sharing:  sharing,
		queue:    guard.NewQueue(),
		gens:     guard.NewGenerations(),
		logger:   logger,
	}
}

// GetNote returns the note for an event, cache first. A cache hit returns
// immediately with no network wait. On a miss (or forced refresh) the
// remote copy is fetched and cached clean; any remote failure falls back
// to whatever the cache holds.
func (s *Service) GetNote(ctx context.Context, bookID, eventID string, forceRefresh bool) (*model.Note, error) {
	if !forceRefresh {
		note, err := s.notes.Get(eventID)
		if err != nil {
			return nil, err
		}
		if note != nil {
			if err := s.notes.TouchHit(eventID); err != nil {
				return nil, err
			}
			return note, nil
		}
	}

	if !s.remote.Registered() {
		return s.notes.Get(eventID)
	}

	payload, err := s.remote.GetNote(ctx, bookID, eventID)
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			s.logger.Warn("note fetch failed, falling back to cache", "event_id", eventID, "error", err)
		}
		return s.notes.Get(eventID)
	}

	note, err := s.notes.PutClean(*payload)
	if err != nil {
		return nil, err
	}
	if err := s.cache.EnsureBudget(); err != nil {
		return nil, err
	}
	return note, nil
}

// SaveNote writes note content locally, dirty, and returns as soon as the
// write is durable. Saves for the same event are serialized through the
// queue; person-group propagation happens inside the serialized section.
// Remote sync is a separate, explicitly invoked step.
func (s *Service) SaveNote(event *model.Event, noteContent string) (*model.Note, error) {
	var saved *model.Note
	err := s.queue.Do("note/"+event.ID, func() error {
		var err error
		saved, err = s.sharing.SaveWithSync(event, noteContent)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.cache.EnsureBudget(); err != nil {
		return nil, err
	}
	return saved, nil
}

// SyncNote pushes one note to the remote save endpoint. On success the
// dirty flag is cleared atomically with adopting the server's version. A
// version conflict is propagated to the caller; any other failure leaves
// the note dirty for the next cycle.
func (s *Service) SyncNote(ctx context.Context, eventID string) error {
	if !s.remote.Registered() {
		return remote.ErrNotRegistered
	}

	note, err := s.notes.Get(eventID)
	if err != nil {
		return err
	}
	if note == nil || !note.Dirty {
		return nil
	}

	version, err := s.remote.SaveNote(ctx, model.NotePayload{
		EventID:   note.EventID,
		BookID:    note.BookID,
		Content:   note.Content,
		Version:   note.Version,
		UpdatedAt: note.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("sync note %s: %w", eventID, err)
	}

	if _, err := s.notes.ConfirmSave(eventID, version, note.UpdatedAt); err != nil {
		return err
	}
	return nil
}

// GetDrawing returns the drawing for a page, cache first, with the same
// fallback behavior as GetNote.
func (s *Service) GetDrawing(ctx context.Context, key store.DrawingKey, forceRefresh bool) (*model.Drawing, error) {
	if !forceRefresh {
		drawing, err := s.drawings.Get(key)
		if err != nil {
			return nil, err
		}
		if drawing != nil {
			if err := s.drawings.TouchHit(key); err != nil {
				return nil, err
			}
			return drawing, nil
		}
	}

	if !s.remote.Registered() {
		return s.drawings.Get(key)
	}

	payload, err := s.remote.GetDrawing(ctx, key.BookID, key.Day, key.ViewMode)
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			s.logger.Warn("drawing fetch failed, falling back to cache", "key", key.String(), "error", err)
		}
		return s.drawings.Get(key)
	}

	drawing, err := s.drawings.PutClean(*payload)
	if err != nil {
		return nil, err
	}
	if err := s.cache.EnsureBudget(); err != nil {
		return nil, err
	}
	return drawing, nil
}

// SaveDrawing writes strokes locally, dirty, serialized per page.
func (s *Service) SaveDrawing(key store.DrawingKey, strokes []model.Stroke) (*model.Drawing, error) {
	var saved *model.Drawing
	err := s.queue.Do("drawing/"+key.String(), func() error {
		var err error
		saved, err = s.drawings.SaveLocal(key, strokes)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.cache.EnsureBudget(); err != nil {
		return nil, err
	}
	return saved, nil
}

// SyncDrawing pushes one drawing, resolving version conflicts by
// append-merging the server's strokes with the local ones and retrying
// with the server's version. Bounded to three attempts; the last error
// surfaces if the conflict will not settle.
func (s *Service) SyncDrawing(ctx context.Context, key store.DrawingKey) error {
	if !s.remote.Registered() {
		return remote.ErrNotRegistered
	}

	backoff := retry.WithMaxRetries(2, retry.NewConstant(conflictRetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		drawing, err := s.drawings.Get(key)
		if err != nil {
			return err
		}
		if drawing == nil || !drawing.Dirty {
			return nil
		}

		version, err := s.remote.SaveDrawing(ctx, model.DrawingPayload{
			BookID:    drawing.BookID,
			Day:       drawing.Day,
			ViewMode:  drawing.ViewMode,
			Strokes:   drawing.Strokes,
			Version:   drawing.Version,
			UpdatedAt: drawing.UpdatedAt,
		})
		if err == nil {
			_, err = s.drawings.ConfirmSave(key, version, drawing.UpdatedAt)
			return err
		}

		var conflict *remote.ConflictError
		if !errors.As(err, &conflict) {
			return fmt.Errorf("sync drawing %s: %w", key.String(), err)
		}

		serverStrokes, serr := s.serverStrokes(ctx, key, conflict)
		if serr != nil {
			return serr
		}

		merged := model.MergeStrokes(serverStrokes, drawing.Strokes)
		if _, err := s.drawings.SetStrokesAndVersion(key, merged, conflict.ServerVersion); err != nil {
			return err
		}
		return retry.RetryableError(err)
	})
}

// serverStrokes recovers the authoritative stroke list at conflict time,
// from the 409 body when present, otherwise by refetching.
func (s *Service) serverStrokes(ctx context.Context, key store.DrawingKey, conflict *remote.ConflictError) ([]model.Stroke, error) {
	if len(conflict.ServerPayload) > 0 {
		var payload model.DrawingPayload
		if err := json.Unmarshal(conflict.ServerPayload, &payload); err == nil {
			return payload.Strokes, nil
		}
	}
	payload, err := s.remote.GetDrawing(ctx, key.BookID, key.Day, key.ViewMode)
	if err != nil {
		return nil, fmt.Errorf("fetch server drawing for merge: %w", err)
	}
	return payload.Strokes, nil
}

// PreloadNotes warms the cache for a window of events in batches. Best
// effort: it never fails the caller; failed batches are logged and
// skipped. Progress reports (loaded, total) after each batch. The window
// key's generation is captured at the start so a navigation away stops
// the preload from clobbering the new window's loads.
func (s *Service) PreloadNotes(ctx context.Context, windowKey, bookID string, eventIDs []string, progress func(loaded, total int)) {
	total := len(eventIDs)
	if total == 0 || !s.remote.Registered() {
		return
	}

	gen := s.gens.Current(windowKey)
	loaded := 0

	for start := 0; start < total; start += preloadBatchSize {
		end := min(start+preloadBatchSize, total)

		for _, eventID := range eventIDs[start:end] {
			if !s.gens.Still(windowKey, gen) {
				return
			}
			payload, err := s.remote.GetNote(ctx, bookID, eventID)
			if err != nil {
				s.logger.Warn("preload skipped note", "event_id", eventID, "error", err)
				continue
			}
			if _, err := s.notes.PutClean(*payload); err != nil {
				s.logger.Warn("preload cache write failed", "event_id", eventID, "error", err)
				continue
			}
			loaded++
		}

		if progress != nil && s.gens.Still(windowKey, gen) {
			progress(loaded, total)
		}
	}

	if err := s.cache.EnsureBudget(); err != nil {
		s.logger.Warn("post-preload cleanup failed", "error", err)
	}
}

// LoadDrawingPage loads a drawing for a visible page context. The result
// is only valid if the page has not changed since the load began; callers
// must drop the drawing when stale is true.
func (s *Service) LoadDrawingPage(ctx context.Context, pageKey string, key store.DrawingKey) (drawing *model.Drawing, stale bool, err error) {
	gen := s.gens.Current(pageKey)
	drawing, err = s.GetDrawing(ctx, key, false)
	if err != nil {
		return nil, false, err
	}
	if !s.gens.Still(pageKey, gen) {
		return nil, true, nil
	}
	return drawing, false, nil
}

// InvalidateContext bumps a page or window context's generation, marking
// every in-flight load for it stale. Call it when the user navigates.
func (s *Service) InvalidateContext(key string) {
	s.gens.Bump(key)
}
