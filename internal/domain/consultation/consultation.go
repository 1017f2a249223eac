// Package consultation defines the domain model for human consultation
// requests — blocking decision points in an automated validation pipeline
// that require human judgment within a bounded time window.
package consultation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Urgency influences how long the system waits for a human before
// falling back to conservative defaults.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Status is the lifecycle state of a consultation session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
	StatusEscalated Status = "escalated"
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusTimedOut || s == StatusEscalated
}

// Well-known consultation types. The set is open: unknown types are
// valid and resolve to the most conservative policy branch.
const (
	TypeCategorizationFailure = "categorization_failure"
	TypeCategorizationError   = "categorization_error"
	TypePlanningFailure       = "planning_failure"
	TypePlanningError         = "planning_error"
	TypeSystemFailure         = "system_failure"
)

// Sentinel errors for session/response correlation.
var (
	// ErrSessionMismatch indicates a response was routed to the wrong
	// session — a correlation bug in the caller, not a recoverable state.
	ErrSessionMismatch = errors.New("consultation: response session ID mismatch")

	// ErrSessionClosed indicates a late response arrived after the
	// session already reached a terminal state.
	ErrSessionClosed = errors.New("consultation: session is no longer active")
)

// Request is an immutable request for human input. It is created by the
// upstream workflow step that cannot proceed without a decision.
type Request struct {
	ConsultationID    string            `json:"consultation_id"`
	Type              string            `json:"consultation_type"`
	Context           map[string]string `json:"context,omitempty"`
	Urgency           Urgency           `json:"urgency"`
	RequiredExpertise []string          `json:"required_expertise,omitempty"`
	TriggeringStep    string            `json:"triggering_step,omitempty"`
	RequestedAt       time.Time         `json:"requested_at"`
}

// NewRequest creates a Request with a fresh consultation ID.
// Empty urgency defaults to normal.
func NewRequest(consultationType string, urgency Urgency, ctx map[string]string) Request {
	if urgency == "" {
		urgency = UrgencyNormal
	}
	return Request{
		ConsultationID: uuid.NewString(),
		Type:           consultationType,
		Context:        ctx,
		Urgency:        urgency,
		RequestedAt:    time.Now().UTC(),
	}
}

// HumanResponse is a decision delivered by a human reviewer.
type HumanResponse struct {
	ResponseType      string            `json:"response_type"`
	ResponseData      map[string]string `json:"response_data,omitempty"`
	UserID            string            `json:"user_id"`
	UserRole          string            `json:"user_role"`
	DecisionRationale string            `json:"decision_rationale,omitempty"`
	ConfidenceLevel   float64           `json:"confidence_level"`
	ConsultationID    string            `json:"consultation_id"`
	SessionID         string            `json:"session_id"`
	DigitalSignature  string            `json:"digital_signature,omitempty"`
	ApprovalLevel     string            `json:"approval_level,omitempty"`
	ReceivedAt        time.Time         `json:"received_at"`
}

// Validate checks structural requirements on a response before it is
// attached to a session.
func (r *HumanResponse) Validate() error {
	if r.ConsultationID == "" {
		return errors.New("consultation: response missing consultation_id")
	}
	if r.UserID == "" {
		return errors.New("consultation: response missing user_id")
	}
	if r.ConfidenceLevel < 0 || r.ConfidenceLevel > 1 {
		return fmt.Errorf("consultation: confidence_level %v outside [0,1]", r.ConfidenceLevel)
	}
	return nil
}

// TimeoutEvent is returned when no human responded within the window.
// ConservativeAction carries the automated fallback decision.
type TimeoutEvent struct {
	ConsultationID     string             `json:"consultation_id"`
	SessionID          string             `json:"session_id"`
	ConservativeAction ConservativePolicy `json:"conservative_action"`
	EscalationRequired bool               `json:"escalation_required"`
	OccurredAt         time.Time          `json:"occurred_at"`
}

// Outcome is the tagged result of a consultation: exactly one of
// Response or Timeout is non-nil.
type Outcome struct {
	Response *HumanResponse `json:"response,omitempty"`
	Timeout  *TimeoutEvent  `json:"timeout,omitempty"`
}

// TimedOut reports whether the consultation resolved without a human.
func (o Outcome) TimedOut() bool { return o.Timeout != nil }

// EscalationRecord preserves an escalated consultation for traceability.
type EscalationRecord struct {
	OriginalConsultationID string    `json:"original_consultation_id"`
	NewConsultationID      string    `json:"new_consultation_id"`
	Reason                 string    `json:"reason"`
	TargetRole             string    `json:"target_role"`
	EscalatedAt            time.Time `json:"escalated_at"`
}

// SessionInfo is a read-only snapshot of a live session, used by
// dashboards and tests.
type SessionInfo struct {
	SessionID        string        `json:"session_id"`
	ConsultationID   string        `json:"consultation_id"`
	ConsultationType string        `json:"consultation_type"`
	Urgency          Urgency       `json:"urgency"`
	Status           Status        `json:"status"`
	Timeout          time.Duration `json:"timeout_seconds"`
	Participants     int           `json:"participants"`
	Responses        int           `json:"responses"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
