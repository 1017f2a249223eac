package nats

import (
	"log/slog"
	"sync"
)

// syncWaiter manages a set of channel-based waiters keyed by
// consultation ID.
type syncWaiter[T any] struct {
	mu      sync.Mutex
	waiters map[string]chan *T
	label   string // for logging
}

func newSyncWaiter[T any](label string) *syncWaiter[T] {
	return &syncWaiter[T]{
		waiters: make(map[string]chan *T),
		label:   label,
	}
}

// register creates a buffered channel for the given consultation ID.
func (w *syncWaiter[T]) register(id string) chan *T {
	ch := make(chan *T, 1)
	w.mu.Lock()
	w.waiters[id] = ch
	w.mu.Unlock()
	return ch
}

// unregister removes the waiter for the given consultation ID.
func (w *syncWaiter[T]) unregister(id string) {
	w.mu.Lock()
	delete(w.waiters, id)
	w.mu.Unlock()
}

// deliver sends a result to the waiting channel and removes the waiter.
// Returns false if no waiter was registered for the given ID, which in
// a multi-node deployment means the session lives elsewhere.
func (w *syncWaiter[T]) deliver(id string, payload *T) bool {
	w.mu.Lock()
	ch, ok := w.waiters[id]
	if ok {
		delete(w.waiters, id)
	}
	w.mu.Unlock()

	if !ok {
		slog.Debug("no local waiter for "+w.label+" result", "consultation_id", id)
		return false
	}

	ch <- payload
	return true
}
