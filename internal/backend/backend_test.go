package backend

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeyPrefixExtraction(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc123", "abc123"},
		{"abc123:user1:admin:true", "abc123"},
		{"abc:def:ghi", "abc"},
	}
	for _, tt := range tests {
		if got := apiKeyPrefix(tt.in); got != tt.want {
			t.Errorf("apiKeyPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMapContextTypeExactMatch(t *testing.T) {
	for _, allowed := range []string{"design", "decision", "trace", "sprint", "log"} {
		m, changed := MapContextType(allowed)
		if changed || m != allowed {
			t.Errorf("MapContextType(%q) = (%q, %v), want (%q, false)", allowed, m, changed, allowed)
		}
	}
}

func TestMapContextTypeFixedTable(t *testing.T) {
	m, changed := MapContextType("sprint_summary")
	if !changed || m != "sprint" {
		t.Errorf("got (%q, %v), want (sprint, true)", m, changed)
	}
	m, changed = MapContextType("architecture")
	if !changed || m != "design" {
		t.Errorf("got (%q, %v), want (design, true)", m, changed)
	}
}

func TestMapContextTypeKeywordRules(t *testing.T) {
	tests := map[string]string{
		"implementation_notes": "design",
		"future_plan":          "decision",
		"debug_history":        "trace",
		"random_thing":         "log",
	}
	for in, want := range tests {
		if m, _ := MapContextType(in); m != want {
			t.Errorf("MapContextType(%q) = %q, want %q", in, m, want)
		}
	}
}

func TestMapContextTypeIdempotent(t *testing.T) {
	inputs := []string{"sprint_summary", "architecture", "random_thing", "log"}
	for _, in := range inputs {
		once, _ := MapContextType(in)
		twice, _ := MapContextType(once)
		if once != twice {
			t.Errorf("map(map(%q)) = %q, want %q (idempotence, spec invariant 10)", in, twice, once)
		}
	}
}

func TestConnectSucceedsOn2xxHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(DefaultConfig(srv.URL))
	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !c.Connected() {
		t.Fatal("expected Connected() true after successful probe")
	}
}

func TestDoRetriesOn5xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.Retry = RetryConfig{MaxRetries: 3, Base: 1, Cap: 5}
	c := New(cfg)

	body, err := c.Do(t.Context(), http.MethodPost, "/tools/store_context", map[string]string{"x": "y"}, true)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body %s", body)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoDoesNotRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.Retry = RetryConfig{MaxRetries: 3, Base: 1, Cap: 5}
	c := New(cfg)

	_, err := c.Do(t.Context(), http.MethodPost, "/tools/store_context", map[string]string{"x": "y"}, true)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt on 4xx (no retry), got %d", attempts)
	}
}
