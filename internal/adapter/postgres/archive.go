package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/validata/consultd/internal/domain/consultation"
)

// SessionArchive implements audit.Archiver using PostgreSQL. Sessions
// land here the moment they leave the in-memory registry; the archive
// is the durable record of how each consultation ended.
type SessionArchive struct {
	pool *pgxpool.Pool
}

// NewSessionArchive creates a SessionArchive backed by the given pool.
func NewSessionArchive(pool *pgxpool.Pool) *SessionArchive {
	return &SessionArchive{pool: pool}
}

// ArchiveSession persists a terminal session snapshot.
func (a *SessionArchive) ArchiveSession(ctx context.Context, info consultation.SessionInfo) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO consultation_sessions (session_id, consultation_id, consultation_type, urgency, status, timeout_seconds, participants, responses, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO UPDATE SET status = EXCLUDED.status, participants = EXCLUDED.participants, responses = EXCLUDED.responses, updated_at = EXCLUDED.updated_at`,
		info.SessionID, info.ConsultationID, info.ConsultationType, string(info.Urgency), string(info.Status),
		int64(info.Timeout/time.Second), info.Participants, info.Responses, info.CreatedAt, info.UpdatedAt)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", info.SessionID, err)
	}
	return nil
}

// ListArchived returns archived sessions for a consultation, newest first.
func (a *SessionArchive) ListArchived(ctx context.Context, consultationID string) ([]consultation.SessionInfo, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT session_id, consultation_id, consultation_type, urgency, status, timeout_seconds, participants, responses, created_at, updated_at
		 FROM consultation_sessions WHERE consultation_id = $1 ORDER BY created_at DESC`,
		consultationID)
	if err != nil {
		return nil, fmt.Errorf("list archived sessions for %s: %w", consultationID, err)
	}
	defer rows.Close()

	var infos []consultation.SessionInfo
	for rows.Next() {
		var info consultation.SessionInfo
		var timeoutSecs int64
		if err := rows.Scan(
			&info.SessionID, &info.ConsultationID, &info.ConsultationType,
			&info.Urgency, &info.Status, &timeoutSecs,
			&info.Participants, &info.Responses, &info.CreatedAt, &info.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan archived session: %w", err)
		}
		info.Timeout = time.Duration(timeoutSecs) * time.Second
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
