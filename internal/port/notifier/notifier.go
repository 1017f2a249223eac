// Package notifier defines the notification port for consultation alerts.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notification is the payload sent through a Notifier when a
// consultation requires (or no longer requires) human attention.
type Notification struct {
	ConsultationID string   `json:"consultation_id"`
	Title          string   `json:"title"`
	Message        string   `json:"message"`
	Level          string   `json:"level"`  // "info", "warning", "critical"
	Source         string   `json:"source"` // e.g. "consultation.requested"
	Contacts       []string `json:"contacts,omitempty"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack", "email").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, n Notification) error
}
