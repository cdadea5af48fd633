package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on read spans and metrics.
const (
	AttrServiceName = attribute.Key("service.name")
	AttrTypeName    = attribute.Key("odata.type")
	AttrPath        = attribute.Key("odata.path")
	AttrDelta       = attribute.Key("odata.delta")
	AttrUntyped     = attribute.Key("odata.untyped")
	AttrResultKind  = attribute.Key("odata.result")
)

// Tracer creates spans for payload reads.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

func newTracer(t trace.Tracer, serviceName string) *Tracer {
	return &Tracer{tracer: t, serviceName: serviceName}
}

// StartRead starts the span of a top-level read of typeName addressed by path.
func (t *Tracer) StartRead(ctx context.Context, typeName, path string, delta, untyped bool) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "odata.read",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrServiceName.String(t.serviceName),
			AttrTypeName.String(typeName),
			AttrPath.String(path),
			AttrDelta.Bool(delta),
			AttrUntyped.Bool(untyped),
		))
}

// StartPatch starts the span of a delta persisted to a store.
func (t *Tracer) StartPatch(ctx context.Context, table string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "odata.patch",
		trace.WithAttributes(AttrServiceName.String(t.serviceName), attribute.String("db.table", table)))
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
