// Package channel defines the port through which the consultation
// manager reaches humans: an outbound notification and a bounded wait
// for a correlated response.
package channel

import (
	"context"
	"time"

	"github.com/validata/consultd/internal/domain/consultation"
)

// Result is the explicit outcome of AwaitResponse. Exactly one shape:
// a non-nil Response means a human answered; TimedOut true means the
// window elapsed with no answer. "No answer" is a first-class value
// here, never an error.
type Result struct {
	Response *consultation.HumanResponse
	TimedOut bool
}

// Channel is the port interface for requesting and collecting human
// responses. Implementations own transport and delivery; the manager
// treats this as an opaque boundary.
type Channel interface {
	// Notify announces that a consultation requires human input.
	Notify(ctx context.Context, req consultation.Request) error

	// AwaitResponse blocks until a response correlated with the given
	// consultation ID arrives or the timeout elapses. A returned error
	// indicates the channel itself failed, not that nobody answered.
	AwaitResponse(ctx context.Context, consultationID string, timeout time.Duration) (Result, error)
}

// Resolver is implemented by channels that can receive responses
// delivered in-process (e.g., from an HTTP handler).
type Resolver interface {
	// Resolve delivers a response to a pending AwaitResponse call.
	// Returns false if nothing is waiting on the consultation ID.
	Resolve(resp *consultation.HumanResponse) bool
}
