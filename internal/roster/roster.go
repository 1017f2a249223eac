// Package roster provides a thread-safe escalation contact directory
// with hot reload support. Contact lists change on on-call rotation
// boundaries, so the process picks up edits without a restart.
package roster

import (
	"fmt"
	"sync"
)

// Loader retrieves the contact lists from a source (static config,
// file, remote directory, etc.). Keys are notification levels ("info",
// "warning", "critical"); values are the contacts to include in alerts
// at that level.
type Loader func() (map[string][]string, error)

// Roster holds the contact lists in memory and supports atomic reloading.
type Roster struct {
	mu       sync.RWMutex
	contacts map[string][]string
	loader   Loader
}

// New creates a Roster, calling the loader once to populate initial values.
func New(loader Loader) (*Roster, error) {
	contacts, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial roster load: %w", err)
	}
	return &Roster{
		contacts: contacts,
		loader:   loader,
	}, nil
}

// Contacts returns the contact list for a notification level, or nil
// if none is configured. The returned slice is a copy.
func (r *Roster) Contacts(level string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.contacts[level]
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// Reload calls the loader and swaps in the new contact lists atomically.
// If the loader returns an error, existing values are preserved.
func (r *Roster) Reload() error {
	contacts, err := r.loader()
	if err != nil {
		return fmt.Errorf("reload roster: %w", err)
	}
	r.mu.Lock()
	r.contacts = contacts
	r.mu.Unlock()
	return nil
}
