package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "consultd"

// StartConsultationSpan starts a span covering a consultation from
// request to terminal state.
func StartConsultationSpan(ctx context.Context, consultationID, consultationType, urgency string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "consultation",
		trace.WithAttributes(
			attribute.String("consultation.id", consultationID),
			attribute.String("consultation.type", consultationType),
			attribute.String("consultation.urgency", urgency),
		),
	)
}

// StartEscalationSpan starts a span for an escalation handoff.
func StartEscalationSpan(ctx context.Context, consultationID, targetRole string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "escalation",
		trace.WithAttributes(
			attribute.String("consultation.id", consultationID),
			attribute.String("escalation.target_role", targetRole),
		),
	)
}
