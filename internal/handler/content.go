package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"inkbook/internal/content"
	"inkbook/internal/model"
	"inkbook/internal/person"
	"inkbook/internal/remote"
	"inkbook/internal/store"
)

// pushTimeout bounds the opportunistic background push fired after a
// local save.
const pushTimeout = 30 * time.Second

type ContentHandler struct {
	svc     *content.Service
	sharing *person.Service
	events  *store.EventStore
	logger  *slog.Logger
}

func NewContentHandler(svc *content.Service, sharing *person.Service, events *store.EventStore, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{svc: svc, sharing: sharing, events: events, logger: logger}
}

func (h *ContentHandler) loadEvent(w http.ResponseWriter, id string) *model.Event {
	event, err := h.events.GetByID(id)
	if err != nil {
		h.logger.Error("get event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return nil
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return nil
	}
	return event
}

// GetNote serves the note for an event, cache first, converged with its
// person group before it is returned.
func (h *ContentHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	event := h.loadEvent(w, r.PathValue("event_id"))
	if event == nil {
		return
	}

	forceRefresh := r.URL.Query().Get("refresh") == "true"
	if _, err := h.svc.GetNote(r.Context(), event.BookID, event.ID, forceRefresh); err != nil {
		h.logger.Error("get note", "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get note")
		return
	}

	note, err := h.sharing.LoadForEvent(event)
	if err != nil {
		h.logger.Error("converge note", "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load note")
		return
	}
	if note == nil {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// SaveNote writes the note locally and returns as soon as the write is
// durable. The remote push happens in the background; a failed push just
// leaves the note dirty for the next sync cycle.
func (h *ContentHandler) SaveNote(w http.ResponseWriter, r *http.Request) {
	event := h.loadEvent(w, r.PathValue("event_id"))
	if event == nil {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	locked, err := h.sharing.IsLockedByOther(event.ID)
	if err != nil {
		h.logger.Error("lock check", "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check lock")
		return
	}
	if locked {
		writeError(w, http.StatusConflict, "note is being edited on another device")
		return
	}

	note, err := h.svc.SaveNote(event, req.Content)
	if err != nil {
		h.logger.Error("save note", "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save note")
		return
	}

	go h.pushNote(event.ID)

	writeJSON(w, http.StatusOK, note)
}

// SyncNote forces an immediate push of the event's note.
func (h *ContentHandler) SyncNote(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")
	if err := h.svc.SyncNote(r.Context(), eventID); err != nil {
		if errors.Is(err, remote.ErrNotRegistered) {
			writeError(w, http.StatusPreconditionFailed, "device is not registered")
			return
		}
		h.logger.Warn("sync note", "event_id", eventID, "error", err)
		writeError(w, http.StatusBadGateway, "sync failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContentHandler) GetDrawing(w http.ResponseWriter, r *http.Request) {
	key := drawingKeyFromRequest(r)
	forceRefresh := r.URL.Query().Get("refresh") == "true"

	drawing, err := h.svc.GetDrawing(r.Context(), key, forceRefresh)
	if err != nil {
		h.logger.Error("get drawing", "key", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get drawing")
		return
	}
	if drawing == nil {
		writeError(w, http.StatusNotFound, "drawing not found")
		return
	}
	writeJSON(w, http.StatusOK, drawing)
}

func (h *ContentHandler) SaveDrawing(w http.ResponseWriter, r *http.Request) {
	key := drawingKeyFromRequest(r)

	var req struct {
		Strokes []model.Stroke `json:"strokes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	drawing, err := h.svc.SaveDrawing(key, req.Strokes)
	if err != nil {
		h.logger.Error("save drawing", "key", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save drawing")
		return
	}

	go h.pushDrawing(key)

	writeJSON(w, http.StatusOK, drawing)
}

// Preload warms the note cache for a window of events. It returns
// immediately; the preload proceeds in the background and is abandoned
// if the window is invalidated.
func (h *ContentHandler) Preload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Window   string   `json:"window"`
		EventIDs []string `json:"event_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Window == "" {
		writeError(w, http.StatusBadRequest, "window is required")
		return
	}

	bookID := r.PathValue("book_id")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		h.svc.PreloadNotes(ctx, req.Window, bookID, req.EventIDs, func(loaded, total int) {
			h.logger.Debug("preload progress", "window", req.Window, "loaded", loaded, "total", total)
		})
	}()

	writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(req.EventIDs)})
}

// InvalidateWindow marks a preload or page window stale, stopping
// in-flight loads for it.
func (h *ContentHandler) InvalidateWindow(w http.ResponseWriter, r *http.Request) {
	h.svc.InvalidateContext(r.PathValue("window"))
	w.WriteHeader(http.StatusNoContent)
}

// AcquireLock takes the edit lock for the event's note.
func (h *ContentHandler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	event := h.loadEvent(w, r.PathValue("event_id"))
	if event == nil {
		return
	}

	acquired, err := h.sharing.AcquireLock(event)
	if err != nil {
		h.logger.Error("acquire lock", "event_id", event.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to acquire lock")
		return
	}
	if !acquired {
		writeError(w, http.StatusConflict, "note is locked by another device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acquired": true})
}

func (h *ContentHandler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	if err := h.sharing.ReleaseLock(r.PathValue("event_id")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ContentHandler) LockStatus(w http.ResponseWriter, r *http.Request) {
	locked, err := h.sharing.IsLockedByOther(r.PathValue("event_id"))
	if err != nil {
		h.logger.Error("lock status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check lock")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"locked_by_other": locked})
}

func (h *ContentHandler) pushNote(eventID string) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := h.svc.SyncNote(ctx, eventID); err != nil && !errors.Is(err, remote.ErrNotRegistered) {
		h.logger.Debug("background note push failed", "event_id", eventID, "error", err)
	}
}

func (h *ContentHandler) pushDrawing(key store.DrawingKey) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := h.svc.SyncDrawing(ctx, key); err != nil && !errors.Is(err, remote.ErrNotRegistered) {
		h.logger.Debug("background drawing push failed", "key", key.String(), "error", err)
	}
}

func drawingKeyFromRequest(r *http.Request) store.DrawingKey {
	return store.DrawingKey{
		BookID:   r.PathValue("book_id"),
		Day:      r.PathValue("day"),
		ViewMode: r.PathValue("mode"),
	}
}
