package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys attached to request spans.
const (
	AttrScenario   = attribute.Key("limitprobe.scenario")
	AttrOutcome    = attribute.Key("limitprobe.outcome")
	AttrViolations = attribute.Key("limitprobe.violations")
	AttrWorker     = attribute.Key("limitprobe.worker")
	AttrStatusCode = attribute.Key("http.response.status_code")
	AttrMethod     = attribute.Key("http.request.method")
	AttrURL        = attribute.Key("url.full")
)

// StartRequestSpan starts a client span for one request issued by scenario.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, method, scenario, target string) (context.Context, trace.Span) {
	spanName := method + " request"
	if scenario != "" {
		spanName = method + " " + scenario
	}
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(AttrMethod.String(method))
	if scenario != "" {
		span.SetAttributes(AttrScenario.String(scenario))
	}
	if target != "" {
		span.SetAttributes(AttrURL.String(target))
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
