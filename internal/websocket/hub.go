// Package websocket pushes engine state to local UI clients: connectivity
// and sync transitions, plus record-change notifications after a sync
// cycle applies server edits.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Message is one notification pushed to connected clients.
type Message struct {
	Type string         `json:"type"`
	Body map[string]any `json:"body,omitempty"`
}

// StatusMessage reports the coordinator's offline/syncing flags.
func StatusMessage(offline, syncing bool) Message {
	return Message{
		Type: "sync_status",
		Body: map[string]any{"offline": offline, "syncing": syncing},
	}
}

// RecordMessage reports that a local record changed under the UI's feet,
// typically because a sync cycle applied a server edit.
func RecordMessage(table, recordID string) Message {
	return Message{
		Type: "record_changed",
		Body: map[string]any{"table": table, "record_id": recordID},
	}
}

// Hub tracks connected clients and fans broadcasts out to them. It
// remembers the most recent sync_status message and replays it to each
// newly connected client, so the UI never starts with a stale badge.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	lastStatus []byte
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client and replays the last known status to it.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	last := h.lastStatus
	h.mu.Unlock()

	if last != nil {
		select {
		case c.send <- last:
		default:
		}
	}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every connected client. Slow clients are
// skipped rather than blocking the caller.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.Lock()
	if msg.Type == "sync_status" {
		h.lastStatus = data
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
