package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/validata/consultd/internal/config"
	"github.com/validata/consultd/internal/domain/consultation"
	"github.com/validata/consultd/internal/domain/event"
	"github.com/validata/consultd/internal/port/audit"
)

// Session is one outstanding request for human input. It owns its
// timeout bookkeeping, participant set and collected responses, and
// moves through a small state machine:
//
//	active -> completed | timed_out | escalated
//
// All terminal transitions go through Complete, which is safe to call
// from both sides of the response/timeout race: the first caller wins,
// the loser is a no-op.
type Session struct {
	mu sync.Mutex

	id           string
	request      consultation.Request
	status       consultation.Status
	timeout      time.Duration
	participants map[string]struct{}
	responses    []consultation.HumanResponse
	createdAt    time.Time
	updatedAt    time.Time

	// timeoutCancel stops the monitoring timer started by
	// StartTimeoutMonitoring. Cleared on completion.
	timeoutCancel func()
	deadline      time.Time

	auditor audit.Store
	now     func() time.Time
}

// NewSession creates a session wrapping the given request. The timeout
// is resolved once at construction and immutable thereafter:
//
//  1. an explicit per-type entry in cfg.TypeTimeouts wins,
//  2. else critical urgency uses cfg.CriticalTimeout,
//  3. else cfg.DefaultTimeout.
//
// Specific failure types carry their own SLA regardless of urgency tier.
func NewSession(req consultation.Request, cfg config.Consultation, auditor audit.Store) *Session {
	now := time.Now
	s := &Session{
		id:           uuid.NewString(),
		request:      req,
		status:       consultation.StatusActive,
		timeout:      resolveTimeout(req, cfg),
		participants: make(map[string]struct{}),
		createdAt:    now().UTC(),
		updatedAt:    now().UTC(),
		auditor:      auditor,
		now:          now,
	}
	return s
}

// resolveTimeout applies the precedence rules for the wait window.
func resolveTimeout(req consultation.Request, cfg config.Consultation) time.Duration {
	if d, ok := cfg.TypeTimeouts[req.Type]; ok && d > 0 {
		return d
	}
	if req.Urgency == consultation.UrgencyCritical && cfg.CriticalTimeout > 0 {
		return cfg.CriticalTimeout
	}
	return cfg.DefaultTimeout
}

// ID returns the session identifier (distinct from the consultation ID).
func (s *Session) ID() string { return s.id }

// Request returns the originating consultation request.
func (s *Session) Request() consultation.Request { return s.request }

// Timeout returns the resolved wait window.
func (s *Session) Timeout() time.Duration { return s.timeout }

// Status returns the current lifecycle state.
func (s *Session) Status() consultation.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AddResponse validates and appends a human response. The response must
// carry this session's ID; a mismatch is a correlation bug upstream and
// fails loudly with ErrSessionMismatch. Responses against a session that
// already reached a terminal state fail with ErrSessionClosed — a late
// answer must never silently merge into a decided consultation.
//
// AddResponse does not change the session status; callers complete the
// session separately once the response has been accepted.
func (s *Session) AddResponse(resp *consultation.HumanResponse) error {
	if resp.SessionID != s.id {
		return fmt.Errorf("%w: got %q, want %q", consultation.ErrSessionMismatch, resp.SessionID, s.id)
	}
	if err := resp.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.status != consultation.StatusActive {
		s.mu.Unlock()
		return fmt.Errorf("%w: status %s", consultation.ErrSessionClosed, s.status)
	}
	resp.ReceivedAt = s.now().UTC()
	s.responses = append(s.responses, *resp)
	s.participants[resp.UserID] = struct{}{}
	s.updatedAt = s.now().UTC()
	s.mu.Unlock()

	s.appendAudit(event.ActionResponseRecorded, resp.UserID, resp.UserRole, map[string]any{
		"response_type":      resp.ResponseType,
		"decision_rationale": resp.DecisionRationale,
		"confidence_level":   resp.ConfidenceLevel,
	})
	return nil
}

// Complete transitions the session to a terminal state and cancels any
// pending timeout timer. Exactly one caller wins: if the session is
// already terminal, Complete returns false and emits nothing, so the
// loser of the response/timeout race produces no duplicate audit record.
func (s *Session) Complete(final consultation.Status) bool {
	s.mu.Lock()
	if s.status != consultation.StatusActive {
		s.mu.Unlock()
		return false
	}
	s.status = final
	s.updatedAt = s.now().UTC()
	cancel := s.timeoutCancel
	s.timeoutCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.appendAudit(event.ActionSessionCompleted, "", "", map[string]any{
		"final_status": string(final),
		"participants": s.ParticipantCount(),
	})
	return true
}

// StartTimeoutMonitoring arms the session's own deadline clock. It is
// used by callers that poll IsTimedOut rather than racing through the
// manager (operational sweeps, tests). onExpire may be nil.
func (s *Session) StartTimeoutMonitoring(onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != consultation.StatusActive || s.timeoutCancel != nil {
		return
	}
	s.deadline = s.now().Add(s.timeout)
	if onExpire == nil {
		return
	}
	timer := time.AfterFunc(s.timeout, onExpire)
	s.timeoutCancel = func() { timer.Stop() }
}

// IsTimedOut reports whether the armed deadline has passed. Always
// false before StartTimeoutMonitoring and after completion.
func (s *Session) IsTimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != consultation.StatusActive || s.deadline.IsZero() {
		return false
	}
	return s.now().After(s.deadline)
}

// ParticipantCount returns the number of distinct responders.
func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// Responses returns a copy of the received responses in arrival order.
func (s *Session) Responses() []consultation.HumanResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]consultation.HumanResponse, len(s.responses))
	copy(out, s.responses)
	return out
}

// UpdatedAt returns the last mutation timestamp.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Info returns a read-only snapshot for observability. It never
// mutates state.
func (s *Session) Info() consultation.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return consultation.SessionInfo{
		SessionID:        s.id,
		ConsultationID:   s.request.ConsultationID,
		ConsultationType: s.request.Type,
		Urgency:          s.request.Urgency,
		Status:           s.status,
		Timeout:          s.timeout,
		Participants:     len(s.participants),
		Responses:        len(s.responses),
		CreatedAt:        s.createdAt,
		UpdatedAt:        s.updatedAt,
	}
}

// appendAudit records a lifecycle event. Audit append failures are
// logged, never propagated: the decision path must not fail because the
// trail store hiccuped.
func (s *Session) appendAudit(action event.Action, actor, role string, details map[string]any) {
	if s.auditor == nil {
		return
	}
	payload, err := json.Marshal(details)
	if err != nil {
		slog.Error("marshal audit details", "action", action, "error", err)
		payload = nil
	}
	entry := &event.AuditEntry{
		ID:             uuid.NewString(),
		ConsultationID: s.request.ConsultationID,
		SessionID:      s.id,
		Action:         action,
		Actor:          actor,
		ActorRole:      role,
		Details:        payload,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.auditor.Append(context.Background(), entry); err != nil {
		slog.Error("audit append failed", "action", action, "session_id", s.id, "error", err)
	}
}
