package otelcfg

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNoopTracerIsDisabled(t *testing.T) {
	tr := NoopTracer()
	if tr.Enabled() {
		t.Fatal("expected NoopTracer to be disabled")
	}
	if err := tr.Shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewWithExporterNoneIsDisabled(t *testing.T) {
	tr, err := New(t.Context(), Config{Enabled: true, ExporterType: ExporterNone, ServiceName: "x"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if tr.Enabled() {
		t.Fatal("expected ExporterNone to disable tracing regardless of Enabled flag")
	}
}

func TestStartOperationSpanReturnsContext(t *testing.T) {
	tr := NoopTracer()
	ctx, span := tr.StartOperationSpan(t.Context(), OperationSpanOptions{Operation: "tools/call", ToolName: "store_context"})
	defer span.End()
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
}

func TestInstrumentTransportPassesThroughWhenDisabled(t *testing.T) {
	base := http.DefaultTransport
	wrapped := InstrumentTransport(nil)(base)
	if wrapped != base {
		t.Fatal("expected a nil tracer to leave the base transport unwrapped")
	}
}

func TestInstrumentTransportWrapsAndForwardsRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := New(t.Context(), Config{Enabled: true, ExporterType: ExporterStdout, ServiceName: "x", SampleRate: 1.0})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer tr.Shutdown(t.Context())

	client := &http.Client{Transport: InstrumentTransport(tr)(http.DefaultTransport)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
