// Package event defines the audit trail entities for the consultation
// lifecycle. Entries are append-only; regulatory traceability requires
// that every lifecycle transition leaves a contemporaneous record.
package event

import (
	"encoding/json"
	"time"
)

// Action identifies the kind of consultation lifecycle event.
type Action string

const (
	ActionConsultationRequested Action = "consultation.requested"
	ActionResponseRecorded      Action = "consultation.response"
	ActionSessionCompleted      Action = "consultation.session_completed"
	ActionTimedOut              Action = "consultation.timed_out"
	ActionEscalated             Action = "consultation.escalated"
	ActionBypassed              Action = "consultation.bypassed"
	ActionSessionExpired        Action = "consultation.session_expired"
)

// AuditEntry is a single immutable record in the consultation audit trail.
type AuditEntry struct {
	ID             string          `json:"id"`
	ConsultationID string          `json:"consultation_id"`
	SessionID      string          `json:"session_id,omitempty"`
	Action         Action          `json:"action"`
	Actor          string          `json:"actor,omitempty"`
	ActorRole      string          `json:"actor_role,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AuditFilter controls which audit entries are returned.
type AuditFilter struct {
	ConsultationID string     `json:"consultation_id,omitempty"`
	SessionID      string     `json:"session_id,omitempty"`
	Action         Action     `json:"action,omitempty"`
	Actor          string     `json:"actor,omitempty"`
	After          *time.Time `json:"after,omitempty"`
	Before         *time.Time `json:"before,omitempty"`
}

// AuditPage is a cursor-paginated page of audit entries.
type AuditPage struct {
	Entries []AuditEntry `json:"entries"`
	Cursor  string       `json:"cursor"`
	HasMore bool         `json:"has_more"`
	Total   int          `json:"total"`
}
