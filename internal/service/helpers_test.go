package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/validata/consultd/internal/config"
	"github.com/validata/consultd/internal/domain/consultation"
	"github.com/validata/consultd/internal/domain/event"
	"github.com/validata/consultd/internal/port/channel"
)

// memAudit is an in-memory audit.Store for tests.
type memAudit struct {
	mu      sync.Mutex
	entries []event.AuditEntry
	failing bool
}

func (m *memAudit) Append(_ context.Context, e *event.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("audit store down")
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAudit) ListByConsultation(_ context.Context, consultationID string) ([]event.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.AuditEntry
	for _, e := range m.entries {
		if e.ConsultationID == consultationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) List(_ context.Context, _ event.AuditFilter, _ string, _ int) (*event.AuditPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return &event.AuditPage{Entries: out, Total: len(out)}, nil
}

func (m *memAudit) countAction(action event.Action) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// fakeChannel is a scriptable channel.Channel for tests.
type fakeChannel struct {
	mu sync.Mutex

	// respondAfter > 0 delivers response after that delay (bounded by
	// the timeout); zero means never respond (await runs to timeout).
	respondAfter time.Duration
	response     *consultation.HumanResponse

	// awaitErr, when set, is returned by AwaitResponse to simulate a
	// broken channel.
	awaitErr  error
	notifyErr error

	notified []consultation.Request
}

func (f *fakeChannel) Notify(_ context.Context, req consultation.Request) error {
	f.mu.Lock()
	f.notified = append(f.notified, req)
	f.mu.Unlock()
	return f.notifyErr
}

func (f *fakeChannel) AwaitResponse(ctx context.Context, consultationID string, timeout time.Duration) (channel.Result, error) {
	if f.awaitErr != nil {
		return channel.Result{}, f.awaitErr
	}
	if f.respondAfter > 0 && f.respondAfter < timeout {
		select {
		case <-time.After(f.respondAfter):
			resp := *f.response
			resp.ConsultationID = consultationID
			return channel.Result{Response: &resp}, nil
		case <-ctx.Done():
			return channel.Result{}, ctx.Err()
		}
	}
	select {
	case <-time.After(timeout):
		return channel.Result{TimedOut: true}, nil
	case <-ctx.Done():
		return channel.Result{}, ctx.Err()
	}
}

// testConsultationConfig returns a config with short windows for tests.
func testConsultationConfig() config.Consultation {
	return config.Consultation{
		DefaultTimeout:    2 * time.Second,
		CriticalTimeout:   500 * time.Millisecond,
		EscalationTimeout: time.Second,
		TypeTimeouts: map[string]time.Duration{
			"categorization_failure": time.Second,
		},
		StaleSessionAge: time.Hour,
	}
}

func testResponse(userID, role string) *consultation.HumanResponse {
	return &consultation.HumanResponse{
		ResponseType:      "decision",
		ResponseData:      map[string]string{"gamp_category": "4"},
		UserID:            userID,
		UserRole:          role,
		DecisionRationale: "reviewed the categorization evidence",
		ConfidenceLevel:   0.9,
	}
}
