package ws

import (
	"context"
	"testing"

	"github.com/validata/consultd/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "consultation.requested",
		Payload: []byte(`{"consultation_id":"c-1"}`),
	})
}

func TestHubBroadcastEventNoConnections(t *testing.T) {
	hub := NewHub()

	// BroadcastEvent with no connections should not panic.
	hub.BroadcastEvent(context.Background(), "consultation.completed", map[string]string{
		"consultation_id": "c-1",
		"status":          "completed",
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()

	// A channel cannot be marshaled to JSON — should log error, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubBroadcastDropsStalledConnection(t *testing.T) {
	hub := NewHub()

	// A connection with no reader and a full queue must be dropped, not
	// block the broadcast.
	_, cancel := context.WithCancel(context.Background())
	c := &conn{send: make(chan []byte), cancel: cancel}
	hub.mu.Lock()
	hub.conns[c] = struct{}{}
	hub.mu.Unlock()

	hub.Broadcast(context.Background(), Message{Type: "consultation.timed_out"})

	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected stalled connection dropped, got %d", hub.ConnectionCount())
	}
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()

	// Removing a connection that was never added should not panic.
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, cancel: cancel}
	hub.remove(c)
}
