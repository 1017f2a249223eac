package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "consultd"

// Metrics holds all consultd metric instruments and satisfies the
// consultation manager's Metrics interface.
type Metrics struct {
	Requested          metric.Int64Counter
	Completed          metric.Int64Counter
	ResolutionDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Requested, err = meter.Int64Counter("consultd.consultations.requested",
		metric.WithDescription("Number of consultations requested"))
	if err != nil {
		return nil, err
	}

	m.Completed, err = meter.Int64Counter("consultd.consultations.completed",
		metric.WithDescription("Number of consultations resolved, by outcome"))
	if err != nil {
		return nil, err
	}

	m.ResolutionDuration, err = meter.Float64Histogram("consultd.consultation.duration_seconds",
		metric.WithDescription("Time from request to terminal state in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ConsultationRequested records a new consultation request.
func (m *Metrics) ConsultationRequested(ctx context.Context, consultationType string) {
	m.Requested.Add(ctx, 1, metric.WithAttributes(
		attribute.String("consultation.type", consultationType),
	))
}

// ConsultationCompleted records a terminal consultation outcome.
func (m *Metrics) ConsultationCompleted(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("consultation.outcome", outcome))
	m.Completed.Add(ctx, 1, attrs)
	m.ResolutionDuration.Record(ctx, elapsed.Seconds(), attrs)
}
