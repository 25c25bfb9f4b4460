// Package otelcfg wires OpenTelemetry tracing around the backend client's
// outbound HTTP calls and the protocol engine's tool dispatch, per
// SPEC_FULL.md's ambient tracing section.
package otelcfg

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ExporterType selects where finished spans are sent.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// Config configures the tracer. The zero value disables tracing.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	ExporterType   ExporterType
	OTLPEndpoint   string
	OTLPInsecure   bool
	SampleRate     float64
}

// DefaultConfig returns a disabled configuration for the server.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ServiceName:  "veris-memory-mcp-server",
		ExporterType: ExporterNone,
		SampleRate:   1.0,
	}
}

// Tracer wraps a TracerProvider with the server's span-naming and
// attribute conventions. The zero value is not usable; build one with
// New or NoopTracer.
type Tracer struct {
	cfg        Config
	provider   trace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	shutdown   func(context.Context) error
	mu         sync.Mutex
}

// New builds a Tracer from cfg. A disabled config or ExporterNone yields
// a no-op tracer so call sites never need a nil check.
func New(ctx context.Context, cfg Config) (*Tracer, error) {
	t := &Tracer{
		cfg:        cfg,
		propagator: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		t.provider = noop.NewTracerProvider()
		t.tracer = t.provider.Tracer(cfg.ServiceName)
		t.shutdown = func(context.Context) error { return nil }
		return t, nil
	}

	exporter, err := t.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otelcfg: create exporter: %w", err)
	}
	res, err := t.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("otelcfg: create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	t.provider = tp
	t.tracer = tp.Tracer(cfg.ServiceName)
	t.shutdown = tp.Shutdown
	otel.SetTextMapPropagator(t.propagator)
	return t, nil
}

// NoopTracer returns a disabled tracer, for tests and the CLI default.
func NoopTracer() *Tracer {
	tp := noop.NewTracerProvider()
	return &Tracer{
		cfg:        DefaultConfig(),
		provider:   tp,
		tracer:     tp.Tracer("veris-memory-mcp-server"),
		propagator: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}),
		shutdown:   func(context.Context) error { return nil },
	}
}

func (t *Tracer) createExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("otelcfg: unknown exporter type %q", cfg.ExporterType)
	}
}

func (t *Tracer) createResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
}

// Shutdown flushes pending spans and releases exporter resources.
func (t *Tracer) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// Enabled reports whether this tracer exports anywhere.
func (t *Tracer) Enabled() bool {
	return t.cfg.Enabled && t.cfg.ExporterType != ExporterNone
}

// Propagator returns the text map propagator used for outbound requests.
func (t *Tracer) Propagator() propagation.TextMapPropagator {
	return t.propagator
}

// OperationSpanOptions names a tool-dispatch or backend-call span per
// spec.md §4.C/§4.D.
type OperationSpanOptions struct {
	Operation string // e.g. "tools/call", "backend.post"
	ToolName  string
	SessionID string
}

// StartOperationSpan starts a client-kind span for one MCP tool dispatch
// or backend round trip, tagged with the server's attribute conventions.
func (t *Tracer) StartOperationSpan(ctx context.Context, opts OperationSpanOptions) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("veris.operation", opts.Operation)}
	if opts.ToolName != "" {
		attrs = append(attrs, attribute.String("veris.tool_name", opts.ToolName))
	}
	if opts.SessionID != "" {
		attrs = append(attrs, attribute.String("veris.session_id", opts.SessionID))
	}

	spanName := "mcp." + opts.Operation
	if opts.ToolName != "" {
		spanName = fmt.Sprintf("mcp.%s/%s", opts.Operation, opts.ToolName)
	}

	return t.tracer.Start(ctx, spanName, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

// RecordError annotates span with err, classifying it per spec.md §7's
// error taxonomy so traces and the error-handling design agree on
// vocabulary.
func RecordError(span trace.Span, err error, errorType string, retryable bool) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", errorType),
		attribute.Bool("error.retryable", retryable),
	)
}

// RecordRetry adds a retry event to span, mirroring the backend client's
// and webhook dispatcher's retry-with-jitter loops.
func RecordRetry(span trace.Span, attempt int, reason string) {
	if span == nil {
		return
	}
	span.AddEvent("retry", trace.WithAttributes(
		attribute.Int("retry.attempt", attempt),
		attribute.String("retry.reason", reason),
	))
}

// TraceInfo extracts the trace/span IDs from ctx's current span, for
// embedding in structured log lines.
func TraceInfo(ctx context.Context) (traceID, spanID string) {
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()
	if sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		spanID = sc.SpanID().String()
	}
	return traceID, spanID
}
