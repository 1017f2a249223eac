package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/validata/consultd/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier("")
	if n.Name() != "slack" {
		t.Fatalf("expected 'slack', got %q", n.Name())
	}
}

func TestSendNotConfigured(t *testing.T) {
	n := NewNotifier("")
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		ConsultationID: "c-1",
		Title:          "Human consultation required",
		Message:        "Categorization failure on inventory system",
		Level:          "critical",
		Source:         "consultation.requested",
		Contacts:       []string{"validation_engineering", "quality_assurance_lead"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msg slackMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("unmarshal webhook body: %v", err)
	}
	if len(msg.Blocks) != 4 {
		t.Fatalf("got %d blocks, want 4 (header, section, contacts, context)", len(msg.Blocks))
	}
	if !strings.Contains(msg.Blocks[0].Text.Text, "[CRITICAL]") {
		t.Errorf("header %q missing level tag", msg.Blocks[0].Text.Text)
	}
	if !strings.Contains(msg.Blocks[2].Text.Text, "quality_assurance_lead") {
		t.Errorf("contacts block %q missing contact", msg.Blocks[2].Text.Text)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Title:   "Test",
		Message: "Test message",
		Level:   "info",
	})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}
