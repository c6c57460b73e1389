package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// testClient builds a client with a bare send channel; the pumps never
// run, so tests read the channel directly.
func testClient(hub *Hub, buffer int) *Client {
	return &Client{hub: hub, send: make(chan []byte, buffer)}
}

func decodeMessage(t *testing.T, data []byte) Message {
	t.Helper()
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := testHub()
	a := testClient(hub, 4)
	b := testClient(hub, 4)
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast(RecordMessage("notes", "ev1"))

	for _, c := range []*Client{a, b} {
		select {
		case data := <-c.send:
			msg := decodeMessage(t, data)
			if msg.Type != "record_changed" {
				t.Errorf("type = %q, want record_changed", msg.Type)
			}
			if msg.Body["record_id"] != "ev1" {
				t.Errorf("record_id = %v, want ev1", msg.Body["record_id"])
			}
		default:
			t.Error("client did not receive broadcast")
		}
	}
}

func TestBroadcastSkipsSlowClients(t *testing.T) {
	hub := testHub()
	slow := testClient(hub, 1)
	fast := testClient(hub, 4)
	hub.Register(slow)
	hub.Register(fast)

	// Fill the slow client's buffer so the next send would block.
	slow.send <- []byte("backlog")

	hub.Broadcast(RecordMessage("notes", "ev1"))

	select {
	case <-fast.send:
	default:
		t.Error("fast client starved by slow client")
	}
	if got := <-slow.send; string(got) != "backlog" {
		t.Errorf("slow client buffer = %q, want untouched backlog", got)
	}
}

func TestRegisterReplaysLastStatus(t *testing.T) {
	hub := testHub()
	hub.Broadcast(StatusMessage(true, false))

	late := testClient(hub, 4)
	hub.Register(late)

	select {
	case data := <-late.send:
		msg := decodeMessage(t, data)
		if msg.Type != "sync_status" {
			t.Errorf("type = %q, want sync_status", msg.Type)
		}
		if msg.Body["offline"] != true {
			t.Errorf("offline = %v, want true", msg.Body["offline"])
		}
	default:
		t.Error("late client did not get the status replay")
	}
}

func TestRecordMessagesAreNotReplayed(t *testing.T) {
	hub := testHub()
	hub.Broadcast(RecordMessage("notes", "ev1"))

	late := testClient(hub, 4)
	hub.Register(late)

	select {
	case data := <-late.send:
		t.Errorf("unexpected replay: %s", data)
	default:
	}
}

func TestUnregisterClosesSendAndDropsCount(t *testing.T) {
	hub := testHub()
	c := testClient(hub, 4)
	hub.Register(c)
	if hub.ClientCount() != 1 {
		t.Fatalf("count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(c)
	if hub.ClientCount() != 0 {
		t.Errorf("count = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel still open after unregister")
	}

	// Double unregister is harmless.
	hub.Unregister(c)
}
