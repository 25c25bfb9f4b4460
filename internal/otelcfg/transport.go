package otelcfg

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// tracingRoundTripper wraps an http.RoundTripper with a client span per
// request and W3C trace-context header injection, the client-side
// counterpart of the teacher's server-side Middleware.
type tracingRoundTripper struct {
	base   http.RoundTripper
	tracer *Tracer
}

// InstrumentTransport returns a backend.Config.InstrumentTransport
// closure that wraps base in a tracing decorator, or returns base
// unchanged if tracer is nil or disabled.
func InstrumentTransport(tracer *Tracer) func(http.RoundTripper) http.RoundTripper {
	return func(base http.RoundTripper) http.RoundTripper {
		if tracer == nil || !tracer.Enabled() {
			return base
		}
		return &tracingRoundTripper{base: base, tracer: tracer}
	}
}

func (rt *tracingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := rt.tracer.tracer.Start(req.Context(), fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLPath(req.URL.Path),
			attribute.String("veris.backend.host", req.URL.Host),
		),
	)
	defer span.End()

	req = req.WithContext(ctx)
	rt.tracer.Propagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		RecordError(span, err, "backend_transport_error", true)
		return nil, err
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetAttributes(attribute.Bool("error", true))
	}
	return resp, nil
}

// CloseIdleConnections forwards to the wrapped transport when it
// supports it, so backend.Client.Close still releases pooled
// connections through an instrumented transport.
func (rt *tracingRoundTripper) CloseIdleConnections() {
	if c, ok := rt.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}
