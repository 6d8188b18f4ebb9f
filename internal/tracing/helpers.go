package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AuditOperation is the engine operation being traced.
type AuditOperation string

const (
	// OpRecord covers persisting one change record.
	OpRecord AuditOperation = "record"
	// OpReconstruct covers folding history into a revision.
	OpReconstruct AuditOperation = "reconstruct"
	// OpUndo covers reversing a change record against live storage.
	OpUndo AuditOperation = "undo"
)

// StartAuditSpan creates a span for an audit engine operation on one
// auditable identity. Returns the derived context and a func to end the
// span, recording err when non-nil.
//
//	ctx, end := tracing.StartAuditSpan(ctx, tracing.OpUndo, identity.String())
//	defer func() { end(err) }()
func StartAuditSpan(ctx context.Context, op AuditOperation, identity string) (context.Context, func(error)) {
	tracer := otel.Tracer("recordtrail/audit")

	ctx, span := tracer.Start(ctx, "audit."+string(op),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("audit.operation", string(op)),
			attribute.String("audit.identity", identity),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
