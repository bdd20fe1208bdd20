// Package obs provides a thin tracing-span helper wrapping each
// pipeline-stage boundary named in SPEC_FULL.md (bridge publish, ingest
// pipeline stage, evaluator tick, orchestrator tick, route delivery
// attempt) in an OpenTelemetry span, since no production tracing code
// survived the teacher's Kubernetes-CRD pruning for this to adapt from
// directly.
package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/nexusiot/fleetcore")

// StartSpan opens a span named "component.operation" and returns the
// derived context plus an End func the caller must invoke with the
// stage's outcome (nil on success).
func StartSpan(ctx context.Context, component, operation string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, component+"."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// TenantAttr is a convenience attribute.KeyValue for the tenant
// dimension every stage carries.
func TenantAttr(tenant string) attribute.KeyValue {
	return attribute.String("tenant", tenant)
}
