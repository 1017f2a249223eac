// Package service contains the application services for consultd.
package service

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/validata/consultd/internal/port/notifier"
	"github.com/validata/consultd/internal/resilience"
)

// NotificationService fans a notification out to all registered
// notifiers. Each notifier sits behind its own circuit breaker so a
// flapping webhook cannot slow down every consultation, and total
// concurrent sends are bounded by a weighted semaphore.
type NotificationService struct {
	notifiers []notifier.Notifier
	breakers  map[string]*resilience.Breaker
	sem       *semaphore.Weighted
}

// NewNotificationService creates a NotificationService. maxConcurrent
// bounds simultaneous in-flight sends across all notifiers; values < 1
// are clamped to 1. newBreaker builds the per-notifier breaker.
func NewNotificationService(notifiers []notifier.Notifier, maxConcurrent int, newBreaker func() *resilience.Breaker) *NotificationService {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	breakers := make(map[string]*resilience.Breaker, len(notifiers))
	for _, n := range notifiers {
		breakers[n.Name()] = newBreaker()
	}
	return &NotificationService{
		notifiers: notifiers,
		breakers:  breakers,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Notify sends the notification to every registered notifier. Errors
// are logged and never interrupt delivery to the remaining notifiers,
// and never propagate to the caller: notification failure must not
// block a consultation decision.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	for _, provider := range s.notifiers {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			slog.Warn("notification cancelled", "provider", provider.Name(), "error", err)
			return
		}
		go func(p notifier.Notifier) {
			defer s.sem.Release(1)
			err := s.breakers[p.Name()].Execute(func() error {
				return p.Send(ctx, n)
			})
			if err != nil {
				slog.Warn("notification send failed",
					"provider", p.Name(),
					"consultation_id", n.ConsultationID,
					"error", err,
				)
				return
			}
			slog.Debug("notification sent", "provider", p.Name(), "consultation_id", n.ConsultationID)
		}(provider)
	}
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
