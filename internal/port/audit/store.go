// Package audit defines the port interface for the append-only
// consultation audit trail.
package audit

import (
	"context"

	"github.com/validata/consultd/internal/domain/consultation"
	"github.com/validata/consultd/internal/domain/event"
)

// Store is the port interface for appending and querying audit entries.
type Store interface {
	// Append persists a new audit entry. Implementations must not
	// mutate or delete existing entries.
	Append(ctx context.Context, entry *event.AuditEntry) error

	// ListByConsultation returns all entries for a consultation,
	// ordered by creation time ascending.
	ListByConsultation(ctx context.Context, consultationID string) ([]event.AuditEntry, error)

	// List returns a cursor-paginated page of entries matching the filter.
	List(ctx context.Context, filter event.AuditFilter, cursor string, limit int) (*event.AuditPage, error)
}

// Archiver persists terminal session snapshots. The in-memory registry
// drops sessions the moment they reach a terminal state; the archive is
// the durable record.
type Archiver interface {
	ArchiveSession(ctx context.Context, info consultation.SessionInfo) error
	ListArchived(ctx context.Context, consultationID string) ([]consultation.SessionInfo, error)
}
