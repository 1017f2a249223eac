package postgres_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/validata/consultd/internal/adapter/postgres"
	"github.com/validata/consultd/internal/config"
	"github.com/validata/consultd/internal/domain/consultation"
	"github.com/validata/consultd/internal/domain/event"
	"github.com/validata/consultd/internal/port/audit"
)

var (
	_ audit.Store    = (*postgres.AuditStore)(nil)
	_ audit.Archiver = (*postgres.SessionArchive)(nil)
)

// setupPool creates a pgxpool connection and runs all migrations. The
// pool is closed via t.Cleanup. Skips unless DATABASE_URL is set.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := postgres.NewPool(ctx, config.Postgres{DSN: dsn, MaxConns: 4, MinConns: 1})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestAuditStore_AppendAndListByConsultation(t *testing.T) {
	pool := setupPool(t)
	store := postgres.NewAuditStore(pool)
	ctx := context.Background()

	consultationID := uuid.NewString()
	sessionID := uuid.NewString()
	details, _ := json.Marshal(map[string]string{"consultation_type": consultation.TypePlanningFailure})

	entries := []event.AuditEntry{
		{ConsultationID: consultationID, SessionID: sessionID, Action: event.ActionConsultationRequested, Actor: "system", Details: details},
		{ConsultationID: consultationID, SessionID: sessionID, Action: event.ActionResponseRecorded, Actor: "qa-lead", ActorRole: "quality_assurance"},
		{ConsultationID: consultationID, SessionID: sessionID, Action: event.ActionSessionCompleted, Actor: "system"},
	}
	for i := range entries {
		if err := store.Append(ctx, &entries[i]); err != nil {
			t.Fatalf("append entry %d: %v", i, err)
		}
	}

	got, err := store.ListByConsultation(ctx, consultationID)
	if err != nil {
		t.Fatalf("ListByConsultation: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	// Order must follow insertion.
	wantActions := []event.Action{event.ActionConsultationRequested, event.ActionResponseRecorded, event.ActionSessionCompleted}
	for i, entry := range got {
		if entry.Action != wantActions[i] {
			t.Errorf("entry %d action = %q, want %q", i, entry.Action, wantActions[i])
		}
		if entry.CreatedAt.IsZero() {
			t.Errorf("entry %d has zero created_at", i)
		}
	}
}

func TestAuditStore_ListPagination(t *testing.T) {
	pool := setupPool(t)
	store := postgres.NewAuditStore(pool)
	ctx := context.Background()

	consultationID := uuid.NewString()
	for range 5 {
		entry := event.AuditEntry{ConsultationID: consultationID, Action: event.ActionResponseRecorded, Actor: "reviewer"}
		if err := store.Append(ctx, &entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	filter := event.AuditFilter{ConsultationID: consultationID}
	page, err := store.List(ctx, filter, "", 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Entries) != 3 || !page.HasMore || page.Total != 5 {
		t.Fatalf("page = %d entries, hasMore=%v, total=%d; want 3, true, 5", len(page.Entries), page.HasMore, page.Total)
	}

	rest, err := store.List(ctx, filter, page.Cursor, 3)
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(rest.Entries) != 2 || rest.HasMore {
		t.Fatalf("page 2 = %d entries, hasMore=%v; want 2, false", len(rest.Entries), rest.HasMore)
	}
}

func TestAuditStore_ListFiltersByAction(t *testing.T) {
	pool := setupPool(t)
	store := postgres.NewAuditStore(pool)
	ctx := context.Background()

	consultationID := uuid.NewString()
	for _, action := range []event.Action{event.ActionConsultationRequested, event.ActionTimedOut, event.ActionTimedOut} {
		entry := event.AuditEntry{ConsultationID: consultationID, Action: action, Actor: "system"}
		if err := store.Append(ctx, &entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	page, err := store.List(ctx, event.AuditFilter{ConsultationID: consultationID, Action: event.ActionTimedOut}, "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(page.Entries))
	}
	for _, entry := range page.Entries {
		if entry.Action != event.ActionTimedOut {
			t.Errorf("action = %q, want %q", entry.Action, event.ActionTimedOut)
		}
	}
}

func TestSessionArchive_RoundTrip(t *testing.T) {
	pool := setupPool(t)
	archive := postgres.NewSessionArchive(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	info := consultation.SessionInfo{
		SessionID:        uuid.NewString(),
		ConsultationID:   uuid.NewString(),
		ConsultationType: consultation.TypeCategorizationFailure,
		Urgency:          consultation.UrgencyHigh,
		Status:           consultation.StatusTimedOut,
		Timeout:          15 * time.Minute,
		Participants:     0,
		Responses:        0,
		CreatedAt:        now.Add(-16 * time.Minute),
		UpdatedAt:        now,
	}
	if err := archive.ArchiveSession(ctx, info); err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}

	got, err := archive.ListArchived(ctx, info.ConsultationID)
	if err != nil {
		t.Fatalf("ListArchived: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d archived sessions, want 1", len(got))
	}
	if got[0].Status != consultation.StatusTimedOut {
		t.Errorf("status = %q, want %q", got[0].Status, consultation.StatusTimedOut)
	}
	if got[0].Timeout != 15*time.Minute {
		t.Errorf("timeout = %v, want 15m", got[0].Timeout)
	}
}

func TestSessionArchive_UpsertUpdatesStatus(t *testing.T) {
	pool := setupPool(t)
	archive := postgres.NewSessionArchive(pool)
	ctx := context.Background()

	info := consultation.SessionInfo{
		SessionID:        uuid.NewString(),
		ConsultationID:   uuid.NewString(),
		ConsultationType: consultation.TypePlanningError,
		Urgency:          consultation.UrgencyNormal,
		Status:           consultation.StatusActive,
		Timeout:          time.Hour,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	if err := archive.ArchiveSession(ctx, info); err != nil {
		t.Fatalf("first archive: %v", err)
	}

	info.Status = consultation.StatusCompleted
	info.Responses = 1
	if err := archive.ArchiveSession(ctx, info); err != nil {
		t.Fatalf("second archive: %v", err)
	}

	got, err := archive.ListArchived(ctx, info.ConsultationID)
	if err != nil {
		t.Fatalf("ListArchived: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1 (upsert)", len(got))
	}
	if got[0].Status != consultation.StatusCompleted || got[0].Responses != 1 {
		t.Errorf("got status=%q responses=%d, want completed/1", got[0].Status, got[0].Responses)
	}
}
