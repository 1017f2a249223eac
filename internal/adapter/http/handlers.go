package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/validata/consultd/internal/config"
	"github.com/validata/consultd/internal/domain/consultation"
	"github.com/validata/consultd/internal/domain/event"
	"github.com/validata/consultd/internal/port/audit"
	"github.com/validata/consultd/internal/port/channel"
	"github.com/validata/consultd/internal/port/notifier"
	"github.com/validata/consultd/internal/service"
)

// ResponsePublisher forwards locally received responses to other nodes.
// Nil when running single-node.
type ResponsePublisher interface {
	PublishResponse(ctx context.Context, resp *consultation.HumanResponse) error
}

// Handlers bundles the dependencies for all consultation API endpoints.
type Handlers struct {
	manager       *service.Manager
	notifications *service.NotificationService
	resolver      channel.Resolver
	publisher     ResponsePublisher
	audits        audit.Store
	archive       audit.Archiver

	authorizedRoles map[string]bool
	ready           func(ctx context.Context) error
	contacts        func(level string) []string
}

// NewHandlers creates the handler set. notifications, publisher, and
// archive may be nil; ready may be nil when no readiness probe exists.
func NewHandlers(
	manager *service.Manager,
	notifications *service.NotificationService,
	resolver channel.Resolver,
	publisher ResponsePublisher,
	audits audit.Store,
	archive audit.Archiver,
	cfg config.Consultation,
	ready func(ctx context.Context) error,
) *Handlers {
	roles := make(map[string]bool, len(cfg.AuthorizedRoles))
	for _, r := range cfg.AuthorizedRoles {
		roles[r] = true
	}
	return &Handlers{
		manager:         manager,
		notifications:   notifications,
		resolver:        resolver,
		publisher:       publisher,
		audits:          audits,
		archive:         archive,
		authorizedRoles: roles,
		ready:           ready,
	}
}

// SetContactLookup installs the escalation contact directory. Outbound
// alerts include the contacts for their notification level.
func (h *Handlers) SetContactLookup(lookup func(level string) []string) {
	h.contacts = lookup
}

func (h *Handlers) contactsFor(level string) []string {
	if h.contacts == nil {
		return nil
	}
	return h.contacts(level)
}

// ---------------------------------------------------------------------------
// Consultations
// ---------------------------------------------------------------------------

type createConsultationRequest struct {
	ConsultationType  string            `json:"consultation_type"`
	Context           map[string]string `json:"context"`
	Urgency           string            `json:"urgency"`
	RequiredExpertise []string          `json:"required_expertise"`
	TriggeringStep    string            `json:"triggering_step"`
	TimeoutOverride   string            `json:"timeout_override"` // Go duration string, e.g. "30m"
}

// CreateConsultation opens a consultation session and blocks until a
// human responds or the wait window elapses. The response body is the
// tagged outcome either way.
func (h *Handlers) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[createConsultationRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.ConsultationType, "consultation_type") {
		return
	}

	var override time.Duration
	if body.TimeoutOverride != "" {
		d, err := time.ParseDuration(body.TimeoutOverride)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "timeout_override must be a positive duration")
			return
		}
		override = d
	}

	req := consultation.NewRequest(body.ConsultationType, consultation.Urgency(body.Urgency), body.Context)
	req.RequiredExpertise = body.RequiredExpertise
	req.TriggeringStep = body.TriggeringStep

	if h.notifications != nil {
		level := notificationLevel(req.Urgency)
		h.notifications.Notify(r.Context(), notifier.Notification{
			ConsultationID: req.ConsultationID,
			Title:          "Human consultation required",
			Message:        "Consultation type " + req.Type + " needs review",
			Level:          level,
			Source:         "consultation.requested",
			Contacts:       h.contactsFor(level),
		})
	}

	outcome, err := h.manager.RequestConsultation(r.Context(), req, override)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Respond delivers a human decision to the consultation waiting on it.
func (h *Handlers) Respond(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	resp, ok := readJSON[consultation.HumanResponse](w, r)
	if !ok {
		return
	}

	if resp.ConsultationID == "" {
		resp.ConsultationID = id
	} else if resp.ConsultationID != id {
		writeSessionError(w, consultation.ErrSessionMismatch)
		return
	}
	if resp.ReceivedAt.IsZero() {
		resp.ReceivedAt = time.Now().UTC()
	}
	if err := resp.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(h.authorizedRoles) > 0 && !h.authorizedRoles[resp.UserRole] {
		writeError(w, http.StatusForbidden, "role not authorized to respond")
		return
	}

	if h.resolver.Resolve(&resp) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
		return
	}

	// No waiter on this node; forward to the rest of the deployment.
	if h.publisher != nil {
		if err := h.publisher.PublishResponse(r.Context(), &resp); err != nil {
			writeInternalError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "forwarded"})
		return
	}

	writeError(w, http.StatusNotFound, "no pending consultation with this ID")
}

type escalateRequest struct {
	Reason     string `json:"reason"`
	TargetRole string `json:"target_role"`
}

// Escalate records an escalation and returns the follow-up request
// aimed at the target role.
func (h *Handlers) Escalate(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	body, ok := readJSON[escalateRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.Reason, "reason") || !requireField(w, body.TargetRole, "target_role") {
		return
	}

	next := h.manager.EscalateConsultation(r.Context(), id, body.Reason, body.TargetRole)

	if h.notifications != nil {
		h.notifications.Notify(r.Context(), notifier.Notification{
			ConsultationID: next.ConsultationID,
			Title:          "Consultation escalated",
			Message:        "Consultation " + id + " escalated to " + body.TargetRole + ": " + body.Reason,
			Level:          "critical",
			Source:         "consultation.escalated",
			Contacts:       h.contactsFor("critical"),
		})
	}

	writeJSON(w, http.StatusCreated, next)
}

// Stats returns lifetime counters, zero-safe rates, and the active
// configuration snapshot.
func (h *Handlers) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.GetStatistics())
}

// ActiveSessions lists snapshots of all currently open sessions.
func (h *Handlers) ActiveSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.manager.ActiveSessions()
	if sessions == nil {
		sessions = []consultation.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// Decision serves the cached terminal outcome of a consultation.
func (h *Handlers) Decision(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	outcome, ok := h.manager.CachedOutcome(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "no cached decision for this consultation")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// ---------------------------------------------------------------------------
// Audit trail
// ---------------------------------------------------------------------------

// ConsultationAudit returns the full audit trail for one consultation.
func (h *Handlers) ConsultationAudit(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	entries, err := h.audits.ListByConsultation(r.Context(), id)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if entries == nil {
		entries = []event.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListAudit returns a filtered, cursor-paginated page of audit entries.
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := event.AuditFilter{
		ConsultationID: q.Get("consultation_id"),
		SessionID:      q.Get("session_id"),
		Action:         event.Action(q.Get("action")),
		Actor:          q.Get("actor"),
	}
	if v := q.Get("after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be RFC3339")
			return
		}
		filter.After = &ts
	}
	if v := q.Get("before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC3339")
			return
		}
		filter.Before = &ts
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	page, err := h.audits.List(r.Context(), filter, q.Get("cursor"), limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ArchivedSessions lists terminal session snapshots for a consultation.
func (h *Handlers) ArchivedSessions(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "session archive not configured")
		return
	}
	id := urlParam(r, "id")
	infos, err := h.archive.ListArchived(r.Context(), id)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if infos == nil {
		infos = []consultation.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready is the readiness probe; it fails while dependencies are down.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func notificationLevel(u consultation.Urgency) string {
	switch u {
	case consultation.UrgencyCritical, consultation.UrgencyHigh:
		return "critical"
	case consultation.UrgencyMedium:
		return "warning"
	default:
		return "info"
	}
}
