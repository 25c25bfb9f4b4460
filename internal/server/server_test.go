package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/veris-memory/mcp-server/internal/config"
)

func testConfig(apiURL string) *config.Config {
	cfg := config.Default()
	cfg.APIURL = apiURL
	cfg.LogLevel = "error"
	return cfg
}

func TestNewRegistersHealthChecksAndTools(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backendSrv.Close()

	s, err := New(testConfig(backendSrv.URL), strings.NewReader(""), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	report := s.HealthRegistry().RunAll(t.Context())
	names := map[string]bool{}
	for _, r := range report.Checks {
		names[r.Name] = true
	}
	for _, want := range []string{"backend", "cache", "webhook_queue", "metrics_collector"} {
		if !names[want] {
			t.Errorf("expected a %q health check to be registered", want)
		}
	}

	if len(s.toolRegistry.Descriptors()) == 0 {
		t.Error("expected the full built-in tool set to be registered")
	}
}

func TestStartConnectsBackendAndStop(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backendSrv.Close()

	s, err := New(testConfig(backendSrv.URL), strings.NewReader(""), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := t.Context()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.backendClient.Connected() {
		t.Error("expected backend to be connected after Start")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestServeHandlesHandshakeOverStdio(t *testing.T) {
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backendSrv.Close()

	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1.0"}}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n"

	var out bytes.Buffer
	s, err := New(testConfig(backendSrv.URL), strings.NewReader(input), &out, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := t.Context()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Serve(ctx); err != nil {
		t.Fatalf("serve: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 response lines, got %d: %q", len(lines), out.String())
	}

	var initResp map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &initResp); err != nil {
		t.Fatalf("unmarshal initialize response: %v", err)
	}
	result, ok := initResp["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected a result in the initialize response, got %v", initResp)
	}
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("expected echoed protocolVersion, got %v", result["protocolVersion"])
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStopIsSafeWithoutStart(t *testing.T) {
	s, err := New(testConfig("http://127.0.0.1:0"), strings.NewReader(""), &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Stop(t.Context()); err != nil {
		t.Fatalf("stop without start should be safe: %v", err)
	}
}
