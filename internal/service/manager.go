package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	cdotel "github.com/validata/consultd/internal/adapter/otel"
	"github.com/validata/consultd/internal/config"
	"github.com/validata/consultd/internal/domain/consultation"
	"github.com/validata/consultd/internal/domain/event"
	"github.com/validata/consultd/internal/port/audit"
	"github.com/validata/consultd/internal/port/broadcast"
	"github.com/validata/consultd/internal/port/cache"
	"github.com/validata/consultd/internal/port/channel"
)

// WebSocket event types broadcast to dashboard clients.
const (
	EventConsultationRequested = "consultation.requested"
	EventConsultationCompleted = "consultation.completed"
	EventConsultationTimedOut  = "consultation.timed_out"
	EventConsultationEscalated = "consultation.escalated"
)

// decisionCacheTTL bounds how long terminal outcomes stay queryable in
// the decision cache.
const decisionCacheTTL = 24 * time.Hour

// Manager is the single entry point for requesting human input. It owns
// the registry of active sessions, races the channel against each
// session's timeout, applies conservative defaults when nobody answers,
// and tracks aggregate statistics.
type Manager struct {
	cfg      config.Consultation
	ch       channel.Channel
	auditor  audit.Store
	archiver audit.Archiver
	cache    cache.Cache
	hub      broadcast.Broadcaster
	metrics  Metrics

	mu       sync.Mutex
	sessions map[string]*Session // keyed by session ID

	total      int64
	successful int64
	timedOut   int64
	escalated  int64

	now func() time.Time
}

// Metrics receives consultation counters. A nil-safe no-op default is
// used when none is wired.
type Metrics interface {
	ConsultationRequested(ctx context.Context, consultationType string)
	ConsultationCompleted(ctx context.Context, outcome string, elapsed time.Duration)
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithArchiver persists terminal session snapshots.
func WithArchiver(a audit.Archiver) ManagerOption {
	return func(m *Manager) { m.archiver = a }
}

// WithDecisionCache caches terminal outcomes by consultation ID.
func WithDecisionCache(c cache.Cache) ManagerOption {
	return func(m *Manager) { m.cache = c }
}

// WithBroadcaster pushes lifecycle events to connected dashboards.
func WithBroadcaster(b broadcast.Broadcaster) ManagerOption {
	return func(m *Manager) { m.hub = b }
}

// WithMetrics wires consultation metric instruments.
func WithMetrics(mts Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mts }
}

// NewManager creates a Manager. cfg is constructed once at process
// start and passed down; the manager never re-reads global state.
func NewManager(cfg config.Consultation, ch channel.Channel, auditor audit.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		ch:       ch,
		auditor:  auditor,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RequestConsultation notifies humans that a decision is needed and
// blocks until either a correlated response arrives or the wait window
// elapses. override > 0 wins over the session's type/urgency-derived
// timeout.
//
// The timeout path is a normal outcome, not an error: it resolves to a
// TimeoutEvent carrying conservative defaults with escalation flagged.
// Channel failures are treated identically — a broken notification
// mechanism must never leave a pending decision unresolved or crash the
// calling pipeline.
func (m *Manager) RequestConsultation(ctx context.Context, req consultation.Request, override time.Duration) (consultation.Outcome, error) {
	if req.ConsultationID == "" {
		req.ConsultationID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = m.now().UTC()
	}

	ctx, span := cdotel.StartConsultationSpan(ctx, req.ConsultationID, req.Type, string(req.Urgency))
	defer span.End()

	sess := NewSession(req, m.cfg, m.auditor)
	sess.now = m.now
	timeout := sess.Timeout()
	if override > 0 {
		timeout = override
	}

	m.mu.Lock()
	m.total++
	m.sessions[sess.ID()] = sess
	m.mu.Unlock()

	started := m.now()
	m.appendAudit(ctx, req.ConsultationID, sess.ID(), event.ActionConsultationRequested, "", map[string]any{
		"consultation_type": req.Type,
		"urgency":           string(req.Urgency),
		"triggering_step":   req.TriggeringStep,
		"timeout":           timeout.String(),
	})
	m.broadcast(ctx, EventConsultationRequested, sess.Info())
	if m.metrics != nil {
		m.metrics.ConsultationRequested(ctx, req.Type)
	}

	if err := m.ch.Notify(ctx, req); err != nil {
		// Humans may still see the request through another replica;
		// keep waiting rather than failing fast.
		slog.Warn("consultation notify failed",
			"consultation_id", req.ConsultationID,
			"error", err,
		)
	}

	slog.Info("consultation requested",
		"consultation_id", req.ConsultationID,
		"session_id", sess.ID(),
		"type", req.Type,
		"urgency", req.Urgency,
		"timeout", timeout,
	)

	result, err := m.ch.AwaitResponse(ctx, req.ConsultationID, timeout)
	switch {
	case err != nil:
		slog.Error("consultation channel failed, degrading to conservative defaults",
			"consultation_id", req.ConsultationID,
			"error", err,
		)
		return m.resolveTimeout(ctx, sess, started), nil

	case result.TimedOut || result.Response == nil:
		return m.resolveTimeout(ctx, sess, started), nil

	default:
		return m.resolveResponse(ctx, sess, result.Response, started)
	}
}

// resolveResponse handles the success path: attach, complete, archive,
// remove. If the timeout path already won the race the response is
// rejected and the consultation resolves as timed out.
func (m *Manager) resolveResponse(ctx context.Context, sess *Session, resp *consultation.HumanResponse, started time.Time) (consultation.Outcome, error) {
	resp.SessionID = sess.ID()
	if err := sess.AddResponse(resp); err != nil {
		slog.Warn("response rejected",
			"consultation_id", sess.Request().ConsultationID,
			"session_id", sess.ID(),
			"error", err,
		)
		return m.resolveTimeout(ctx, sess, started), nil
	}

	if sess.Complete(consultation.StatusCompleted) {
		m.mu.Lock()
		m.successful++
		m.mu.Unlock()
	}
	m.finalize(ctx, sess)

	elapsed := m.now().Sub(started)
	m.broadcast(ctx, EventConsultationCompleted, sess.Info())
	if m.metrics != nil {
		m.metrics.ConsultationCompleted(ctx, "completed", elapsed)
	}
	m.cacheOutcome(ctx, sess.Request().ConsultationID, consultation.Outcome{Response: resp})

	slog.Info("consultation completed",
		"consultation_id", sess.Request().ConsultationID,
		"session_id", sess.ID(),
		"user_id", resp.UserID,
		"elapsed", elapsed,
	)
	return consultation.Outcome{Response: resp}, nil
}

// resolveTimeout handles the no-answer path: generate conservative
// defaults, mark the session timed out, archive and remove it. Safe to
// call even when the response path already completed the session; the
// loser's transition is a no-op and no duplicate audit is emitted.
func (m *Manager) resolveTimeout(ctx context.Context, sess *Session, started time.Time) consultation.Outcome {
	req := sess.Request()
	action := conservativeDefaults(req, m.now())

	if sess.Complete(consultation.StatusTimedOut) {
		m.mu.Lock()
		m.timedOut++
		m.mu.Unlock()

		m.appendAudit(ctx, req.ConsultationID, sess.ID(), event.ActionTimedOut, "", map[string]any{
			"conservative_risk_level": action.RiskLevel,
			"gamp_category":           int(action.GAMPCategory),
			"escalation_contacts":     escalationContacts(req),
		})
	}
	m.finalize(ctx, sess)

	ev := &consultation.TimeoutEvent{
		ConsultationID:     req.ConsultationID,
		SessionID:          sess.ID(),
		ConservativeAction: action,
		EscalationRequired: true,
		OccurredAt:         m.now().UTC(),
	}

	elapsed := m.now().Sub(started)
	m.broadcast(ctx, EventConsultationTimedOut, ev)
	if m.metrics != nil {
		m.metrics.ConsultationCompleted(ctx, "timed_out", elapsed)
	}
	m.cacheOutcome(ctx, req.ConsultationID, consultation.Outcome{Timeout: ev})

	slog.Warn("consultation timed out, conservative defaults applied",
		"consultation_id", req.ConsultationID,
		"session_id", sess.ID(),
		"type", req.Type,
		"risk_level", action.RiskLevel,
	)
	return consultation.Outcome{Timeout: ev}
}

// finalize archives a terminal session and removes it from the registry.
// The registry is exclusively owned by the manager; sessions never
// remove themselves.
func (m *Manager) finalize(ctx context.Context, sess *Session) {
	m.mu.Lock()
	_, present := m.sessions[sess.ID()]
	delete(m.sessions, sess.ID())
	m.mu.Unlock()

	if present && m.archiver != nil {
		if err := m.archiver.ArchiveSession(ctx, sess.Info()); err != nil {
			slog.Error("session archive failed", "session_id", sess.ID(), "error", err)
		}
	}
}

// EscalateConsultation produces a new high-urgency request routed to
// targetRole. It does not wait for a response; the caller decides
// whether to resubmit via RequestConsultation.
func (m *Manager) EscalateConsultation(ctx context.Context, consultationID, reason, targetRole string) consultation.Request {
	ctx, span := cdotel.StartEscalationSpan(ctx, consultationID, targetRole)
	defer span.End()

	next := consultation.Request{
		ConsultationID:    uuid.NewString(),
		Type:              "escalated_" + targetRole,
		Urgency:           consultation.UrgencyHigh,
		RequiredExpertise: []string{targetRole},
		Context: map[string]string{
			"escalation_reason":     reason,
			"original_consultation": consultationID,
		},
		TriggeringStep: "escalation",
		RequestedAt:    m.now().UTC(),
	}

	m.mu.Lock()
	m.escalated++
	m.mu.Unlock()

	m.appendAudit(ctx, consultationID, "", event.ActionEscalated, "", map[string]any{
		"reason":              reason,
		"target_role":         targetRole,
		"new_consultation_id": next.ConsultationID,
		"escalation_contacts": escalationContacts(next),
	})
	m.broadcast(ctx, EventConsultationEscalated, consultation.EscalationRecord{
		OriginalConsultationID: consultationID,
		NewConsultationID:      next.ConsultationID,
		Reason:                 reason,
		TargetRole:             targetRole,
		EscalatedAt:            next.RequestedAt,
	})

	slog.Info("consultation escalated",
		"consultation_id", consultationID,
		"new_consultation_id", next.ConsultationID,
		"target_role", targetRole,
	)
	return next
}

// CleanupExpiredSessions force-completes sessions whose last update is
// older than the staleness threshold. This is a leak-prevention sweep,
// deliberately coarser than per-session timeouts: it only catches
// sessions whose timeout race failed to fire. Returns the count cleaned.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) int {
	threshold := m.cfg.StaleSessionAge
	if threshold <= 0 {
		threshold = 4 * maxConfiguredTimeout(m.cfg)
	}
	cutoff := m.now().Add(-threshold)

	m.mu.Lock()
	var stale []*Session
	for _, sess := range m.sessions {
		if sess.UpdatedAt().Before(cutoff) {
			stale = append(stale, sess)
		}
	}
	m.mu.Unlock()

	cleaned := 0
	for _, sess := range stale {
		if sess.Complete(consultation.StatusTimedOut) {
			m.mu.Lock()
			m.timedOut++
			m.mu.Unlock()
			m.appendAudit(ctx, sess.Request().ConsultationID, sess.ID(), event.ActionSessionExpired, "", map[string]any{
				"stale_threshold": threshold.String(),
			})
			cleaned++
		}
		m.finalize(ctx, sess)
	}

	if cleaned > 0 {
		slog.Warn("expired consultation sessions cleaned", "count", cleaned)
	}
	return cleaned
}

// maxConfiguredTimeout returns the largest timeout in the configuration,
// used to derive the fallback staleness threshold.
func maxConfiguredTimeout(cfg config.Consultation) time.Duration {
	m := cfg.DefaultTimeout
	if cfg.CriticalTimeout > m {
		m = cfg.CriticalTimeout
	}
	if cfg.EscalationTimeout > m {
		m = cfg.EscalationTimeout
	}
	for _, d := range cfg.TypeTimeouts {
		if d > m {
			m = d
		}
	}
	if m <= 0 {
		m = time.Hour
	}
	return m
}

// Statistics is the aggregate view returned by the stats endpoint.
type Statistics struct {
	TotalConsultations      int64   `json:"total_consultations"`
	SuccessfulConsultations int64   `json:"successful_consultations"`
	TimedOutConsultations   int64   `json:"timed_out_consultations"`
	EscalatedConsultations  int64   `json:"escalated_consultations"`
	SuccessRate             float64 `json:"success_rate"`
	TimeoutRate             float64 `json:"timeout_rate"`
	EscalationRate          float64 `json:"escalation_rate"`
	ActiveSessions          int     `json:"active_sessions"`

	DefaultTimeout           string `json:"default_timeout"`
	CriticalTimeout          string `json:"critical_timeout"`
	EscalationTimeout        string `json:"escalation_timeout"`
	ConservativeGAMPCategory int    `json:"conservative_gamp_category"`
	ConservativeRiskLevel    string `json:"conservative_risk_level"`
}

// GetStatistics returns current counters and rates. Rates are 0.0 when
// no consultation has been requested yet.
func (m *Manager) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Statistics{
		TotalConsultations:      m.total,
		SuccessfulConsultations: m.successful,
		TimedOutConsultations:   m.timedOut,
		EscalatedConsultations:  m.escalated,
		ActiveSessions:          len(m.sessions),

		DefaultTimeout:           m.cfg.DefaultTimeout.String(),
		CriticalTimeout:          m.cfg.CriticalTimeout.String(),
		EscalationTimeout:        m.cfg.EscalationTimeout.String(),
		ConservativeGAMPCategory: int(consultation.GAMPCategoryCustom),
		ConservativeRiskLevel:    consultation.RiskLevelHigh,
	}
	if m.total > 0 {
		s.SuccessRate = float64(m.successful) / float64(m.total)
		s.TimeoutRate = float64(m.timedOut) / float64(m.total)
		s.EscalationRate = float64(m.escalated) / float64(m.total)
	}
	return s
}

// ActiveSessions returns snapshots of all live sessions.
func (m *Manager) ActiveSessions() []consultation.SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	infos := make([]consultation.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	return infos
}

// ActiveSessionCount returns the number of live sessions.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CachedOutcome returns a previously resolved outcome for a
// consultation, if it is still in the decision cache.
func (m *Manager) CachedOutcome(ctx context.Context, consultationID string) (*consultation.Outcome, bool) {
	if m.cache == nil {
		return nil, false
	}
	data, ok, err := m.cache.Get(ctx, decisionCacheKey(consultationID))
	if err != nil || !ok {
		return nil, false
	}
	var out consultation.Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		slog.Error("decode cached outcome", "consultation_id", consultationID, "error", err)
		return nil, false
	}
	return &out, true
}

func (m *Manager) cacheOutcome(ctx context.Context, consultationID string, out consultation.Outcome) {
	if m.cache == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		slog.Error("encode outcome for cache", "consultation_id", consultationID, "error", err)
		return
	}
	if err := m.cache.Set(ctx, decisionCacheKey(consultationID), data, decisionCacheTTL); err != nil {
		slog.Warn("decision cache set failed", "consultation_id", consultationID, "error", err)
	}
}

// decisionCacheKey uses a dot separator because the shared cache tier
// sits on NATS KV, whose key grammar has no colon.
func decisionCacheKey(consultationID string) string {
	return "decision." + consultationID
}

func (m *Manager) broadcast(ctx context.Context, eventType string, payload any) {
	if m.hub != nil {
		m.hub.BroadcastEvent(ctx, eventType, payload)
	}
}

func (m *Manager) appendAudit(ctx context.Context, consultationID, sessionID string, action event.Action, actor string, details map[string]any) {
	if m.auditor == nil {
		return
	}
	payload, err := json.Marshal(details)
	if err != nil {
		slog.Error("marshal audit details", "action", action, "error", err)
		payload = nil
	}
	entry := &event.AuditEntry{
		ID:             uuid.NewString(),
		ConsultationID: consultationID,
		SessionID:      sessionID,
		Action:         action,
		Actor:          actor,
		Details:        payload,
		CreatedAt:      m.now().UTC(),
	}
	if err := m.auditor.Append(ctx, entry); err != nil {
		slog.Error("audit append failed", "action", action, "consultation_id", consultationID, "error", err)
	}
}
