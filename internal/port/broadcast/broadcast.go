// Package broadcast defines the port for pushing real-time consultation
// lifecycle events to connected dashboard clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	// Delivery is best-effort; failures never block the caller.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
