package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Consultations
		r.Post("/consultations", h.CreateConsultation)
		r.Get("/consultations/stats", h.Stats)
		r.Get("/consultations/active", h.ActiveSessions)
		r.Post("/consultations/{id}/respond", h.Respond)
		r.Post("/consultations/{id}/escalate", h.Escalate)
		r.Get("/consultations/{id}/decision", h.Decision)
		r.Get("/consultations/{id}/audit", h.ConsultationAudit)
		r.Get("/consultations/{id}/sessions", h.ArchivedSessions)

		// Audit trail
		r.Get("/audit", h.ListAudit)
	})
}
