package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "relayd"

// StartTurnSpan starts a span covering one turn from admission to terminal
// state.
func StartTurnSpan(ctx context.Context, sessionID, turnID, writerID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("turn.id", turnID),
			attribute.String("turn.writer_id", writerID),
		),
	)
}

// StartPermissionSpan starts a span covering a permission request from open
// to resolution.
func StartPermissionSpan(ctx context.Context, sessionID, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "permission",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("permission.request_id", requestID),
		),
	)
}
