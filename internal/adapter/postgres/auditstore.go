package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/validata/consultd/internal/domain/event"
)

// AuditStore implements audit.Store using PostgreSQL (append-only).
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append inserts a new entry into the consultation_audit table.
func (s *AuditStore) Append(ctx context.Context, entry *event.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO consultation_audit (consultation_id, session_id, action, actor, actor_role, details)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ConsultationID, nullIfEmpty(entry.SessionID), string(entry.Action),
		entry.Actor, entry.ActorRole, entry.Details)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// auditColumns is the SELECT column list for consultation_audit queries.
const auditColumns = `id::text, consultation_id, COALESCE(session_id::text, ''), action, actor, actor_role, details, created_at`

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }, entry *event.AuditEntry) error {
	return scanner.Scan(
		&entry.ID, &entry.ConsultationID, &entry.SessionID,
		&entry.Action, &entry.Actor, &entry.ActorRole, &entry.Details, &entry.CreatedAt,
	)
}

// ListByConsultation returns all entries for the given consultation,
// ordered by creation time ascending.
func (s *AuditStore) ListByConsultation(ctx context.Context, consultationID string) ([]event.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM consultation_audit WHERE consultation_id = $1 ORDER BY created_at ASC, id ASC`, auditColumns),
		consultationID)
	if err != nil {
		return nil, fmt.Errorf("list audit by consultation %s: %w", consultationID, err)
	}
	defer rows.Close()

	var entries []event.AuditEntry
	for rows.Next() {
		var entry event.AuditEntry
		if err := scanAuditEntry(rows, &entry); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// List returns a cursor-paginated page of entries with optional filtering.
func (s *AuditStore) List(ctx context.Context, filter event.AuditFilter, cursor string, limit int) (*event.AuditPage, error) {
	if limit <= 0 {
		limit = 50
	}

	// Build dynamic WHERE clause.
	var args []any
	conditions := []string{"TRUE"}
	argIdx := 1

	if filter.ConsultationID != "" {
		conditions = append(conditions, fmt.Sprintf("consultation_id = $%d", argIdx))
		args = append(args, filter.ConsultationID)
		argIdx++
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", argIdx))
		args = append(args, filter.SessionID)
		argIdx++
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argIdx))
		args = append(args, string(filter.Action))
		argIdx++
	}
	if filter.Actor != "" {
		conditions = append(conditions, fmt.Sprintf("actor = $%d", argIdx))
		args = append(args, filter.Actor)
		argIdx++
	}
	if filter.After != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIdx))
		args = append(args, *filter.After)
		argIdx++
	}
	if filter.Before != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, *filter.Before)
		argIdx++
	}
	if cursor != "" {
		conditions = append(conditions, fmt.Sprintf("id > $%d::bigint", argIdx))
		args = append(args, cursor)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	// Count total matching entries.
	var total int
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM consultation_audit WHERE %s`, where)
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}

	// Fetch limit+1 to detect hasMore.
	fetchSQL := fmt.Sprintf(
		`SELECT %s FROM consultation_audit WHERE %s ORDER BY id ASC LIMIT $%d`,
		auditColumns, where, argIdx)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, fetchSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []event.AuditEntry
	for rows.Next() {
		var entry event.AuditEntry
		if err := scanAuditEntry(rows, &entry); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	var nextCursor string
	if hasMore && len(entries) > 0 {
		nextCursor = entries[len(entries)-1].ID
	}

	return &event.AuditPage{
		Entries: orEmpty(entries),
		Cursor:  nextCursor,
		HasMore: hasMore,
		Total:   total,
	}, nil
}
