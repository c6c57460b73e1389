package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"inkbook/internal/model"
	"inkbook/internal/person"
	"inkbook/internal/store"
)

type EventHandler struct {
	events  *store.EventStore
	sharing *person.Service
	logger  *slog.Logger
}

func NewEventHandler(events *store.EventStore, sharing *person.Service, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, sharing: sharing, logger: logger}
}

type eventRequest struct {
	Title        string `json:"title"`
	RecordNumber string `json:"record_number"`
	EventType    string `json:"event_type"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

func parseTimes(req *eventRequest, w http.ResponseWriter) (start, end time.Time, ok bool) {
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_time must be RFC3339 format")
		return time.Time{}, time.Time{}, false
	}
	end, err = time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_time must be RFC3339 format")
		return time.Time{}, time.Time{}, false
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, "start_time must be before end_time")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	start, end, ok := parseTimes(&req, w)
	if !ok {
		return
	}

	event, err := h.events.Create(r.PathValue("book_id"), req.Title, req.RecordNumber, req.EventType, start, end)
	if err != nil {
		h.logger.Error("create event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	// A record number present at creation joins the person group right away.
	if event.RecordNumber != "" {
		if _, err := h.sharing.HandleRecordNumberUpdate(event); err != nil {
			h.logger.Error("person group join", "event_id", event.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, event)
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	includeRemoved := r.URL.Query().Get("include_removed") == "true"

	events, err := h.events.ListByBook(r.PathValue("book_id"), includeRemoved)
	if err != nil {
		h.logger.Error("list events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetByID(r.PathValue("id"))
	if err != nil {
		h.logger.Error("get event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Update edits an event's descriptive fields. Time changes are rejected
// here; rescheduling replaces the event instead of mutating it.
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string `json:"title"`
		RecordNumber string `json:"record_number"`
		EventType    string `json:"event_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	id := r.PathValue("id")
	existing, err := h.events.GetByID(id)
	if err != nil {
		h.logger.Error("get event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	event, err := h.events.Update(id, req.Title, req.RecordNumber, req.EventType)
	if err != nil {
		h.logger.Error("update event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update event")
		return
	}

	// A changed record number moves the note between person groups.
	if event.RecordNumber != existing.RecordNumber || event.Title != existing.Title {
		if _, err := h.sharing.HandleRecordNumberUpdate(event); err != nil {
			h.logger.Error("person group update", "event_id", event.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, event)
}

func (h *EventHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.events.Remove(r.PathValue("id"), req.Reason); err != nil {
		h.logger.Error("remove event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reschedule soft-removes the event and creates a replacement at the new
// time, carrying the note along. The replacement is returned.
func (h *EventHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	start, end, ok := parseTimes(&req, w)
	if !ok {
		return
	}

	replacement, err := h.events.Reschedule(r.PathValue("id"), start, end)
	if err != nil {
		h.logger.Error("reschedule event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reschedule event")
		return
	}
	writeJSON(w, http.StatusCreated, replacement)
}
