// Package server exposes the engine's local HTTP surface: the content
// API the UI talks to, a health endpoint, a JSON status snapshot, and
// the WebSocket push channel. It binds to loopback; there is no auth
// layer.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"inkbook/internal/handler"
	"inkbook/internal/store"
	"inkbook/internal/syncd"
	ws "inkbook/internal/websocket"
)

type Server struct {
	hub         *ws.Hub
	coordinator *syncd.Coordinator
	syncState   *store.SyncStateStore
	bookH       *handler.BookHandler
	eventH      *handler.EventHandler
	contentH    *handler.ContentHandler
	logger      *slog.Logger
}

func New(hub *ws.Hub, coordinator *syncd.Coordinator, syncState *store.SyncStateStore, bookH *handler.BookHandler, eventH *handler.EventHandler, contentH *handler.ContentHandler, logger *slog.Logger) *Server {
	return &Server{
		hub:         hub,
		coordinator: coordinator,
		syncState:   syncState,
		bookH:       bookH,
		eventH:      eventH,
		contentH:    contentH,
		logger:      logger,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /status", s.statusHandler)
	mux.HandleFunc("GET /ws", ws.Handler(s.hub))

	// Books
	mux.HandleFunc("POST /api/books", s.bookH.Create)
	mux.HandleFunc("GET /api/books", s.bookH.List)
	mux.HandleFunc("GET /api/books/{id}", s.bookH.Get)
	mux.HandleFunc("POST /api/books/{id}/archive", s.bookH.Archive)

	// Events
	mux.HandleFunc("POST /api/books/{book_id}/events", s.eventH.Create)
	mux.HandleFunc("GET /api/books/{book_id}/events", s.eventH.List)
	mux.HandleFunc("GET /api/events/{id}", s.eventH.Get)
	mux.HandleFunc("PUT /api/events/{id}", s.eventH.Update)
	mux.HandleFunc("POST /api/events/{id}/remove", s.eventH.Remove)
	mux.HandleFunc("POST /api/events/{id}/reschedule", s.eventH.Reschedule)

	// Notes
	mux.HandleFunc("GET /api/events/{event_id}/note", s.contentH.GetNote)
	mux.HandleFunc("PUT /api/events/{event_id}/note", s.contentH.SaveNote)
	mux.HandleFunc("POST /api/events/{event_id}/note/sync", s.contentH.SyncNote)

	// Note edit locks
	mux.HandleFunc("POST /api/events/{event_id}/lock", s.contentH.AcquireLock)
	mux.HandleFunc("DELETE /api/events/{event_id}/lock", s.contentH.ReleaseLock)
	mux.HandleFunc("GET /api/events/{event_id}/lock", s.contentH.LockStatus)

	// Drawings
	mux.HandleFunc("GET /api/books/{book_id}/drawings/{day}/{mode}", s.contentH.GetDrawing)
	mux.HandleFunc("PUT /api/books/{book_id}/drawings/{day}/{mode}", s.contentH.SaveDrawing)

	// Cache warming
	mux.HandleFunc("POST /api/books/{book_id}/preload", s.contentH.Preload)
	mux.HandleFunc("DELETE /api/windows/{window}", s.contentH.InvalidateWindow)

	return s.requestLogger(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// statusHandler reports the coordinator flags, the last completed sync,
// and how many UI clients are listening.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := s.coordinator.Status()

	lastSync, err := s.syncState.LastSyncAt()
	if err != nil {
		s.logger.Error("read last sync time", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var lastSyncAt *time.Time
	if lastSync != nil {
		t := lastSync.UTC()
		lastSyncAt = &t
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Offline    bool       `json:"offline"`
		Syncing    bool       `json:"syncing"`
		LastSyncAt *time.Time `json:"last_sync_at"`
		Clients    int        `json:"clients"`
	}{
		Offline:    status.Offline,
		Syncing:    status.Syncing,
		LastSyncAt: lastSyncAt,
		Clients:    s.hub.ClientCount(),
	})
}
