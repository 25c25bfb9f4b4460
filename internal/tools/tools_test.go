package tools

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/veris-memory/mcp-server/internal/backend"
	"github.com/veris-memory/mcp-server/internal/cache"
	"github.com/veris-memory/mcp-server/internal/stream"
	"github.com/veris-memory/mcp-server/internal/webhook"
)

func testDeps(t *testing.T, handler http.HandlerFunc) *Deps {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &Deps{
		Backend:       backend.New(backend.DefaultConfig(srv.URL)),
		Cache:         cache.New(100),
		Webhooks:      webhook.NewRegistry(10),
		StreamLimiter: stream.NewConcurrencyLimiter(10),
		Config: Config{
			MaxResults: 50, MaxContentBytes: 1 << 20, MaxScratchpadBytes: 64 * 1024,
			MaxUserFactsLimit: 200, GraphMaxResults: 100, ReadOnlyGraph: true,
			CacheTTLRetrieve: 300 * time.Second, CacheTTLSearch: 300 * time.Second, CacheTTLListTypes: 900 * time.Second,
			StreamConfig: stream.DefaultIteratorConfig(), BatchSize: 5, BatchInterWindowDelay: time.Millisecond, BatchItemMaxRetries: 1,
		},
	}
}

func decodeResultData(t *testing.T, r *Result) map[string]any {
	t.Helper()
	if len(r.Content) != 1 {
		t.Fatalf("expected exactly one content part, got %d", len(r.Content))
	}
	text := r.Content[0].Text
	idx := strings.Index(text, "```json\n")
	if idx < 0 {
		t.Fatalf("expected a fenced json block in: %s", text)
	}
	body := text[idx+len("```json\n"):]
	end := strings.LastIndex(body, "\n```")
	if end < 0 {
		t.Fatalf("unterminated json block in: %s", text)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(body[:end]), &data); err != nil {
		t.Fatalf("decode json block: %v", err)
	}
	return data
}

func TestStoreContextMapsTypeAndRecordsOriginal(t *testing.T) {
	var gotBody map[string]any
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"id": "ctx-1", "type": gotBody["type"]})
	})

	tool := NewStoreContext(d)
	res, err := tool.Exec(t.Context(), map[string]any{
		"content":      map[string]any{"summary": "hello"},
		"context_type": "architecture", // maps to "design" via the fixed table
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.IsError {
		t.Fatalf("expected success, got error result: %+v", res)
	}
	if gotBody["type"] != "design" {
		t.Fatalf("expected mapped type 'design' sent upstream, got %v", gotBody["type"])
	}
	metadata, _ := gotBody["metadata"].(map[string]any)
	if metadata == nil || metadata["original_type"] != "architecture" {
		t.Fatalf("expected metadata.original_type=architecture, got %+v", metadata)
	}
}

func TestStoreContextRejectsOversizeContent(t *testing.T) {
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	d.Config.MaxContentBytes = 10

	tool := NewStoreContext(d)
	res, err := tool.Exec(t.Context(), map[string]any{
		"content": map[string]any{"text": strings.Repeat("x", 100)},
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected content_too_large error result")
	}
}

func TestRetrieveContextRejectsEmptyQueryWithoutBackendCall(t *testing.T) {
	called := false
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	tool := NewRetrieveContext(d)
	res, err := tool.Exec(t.Context(), map[string]any{"query": "   "})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected empty_query error result")
	}
	if called {
		t.Fatal("backend must not be called for an empty query")
	}
}

func TestRetrieveContextCachesSecondCall(t *testing.T) {
	calls := 0
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		calls++
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{{"id": "a", "relevance_score": 0.9}}})
	})

	tool := NewRetrieveContext(d)
	args := map[string]any{"query": "widgets", "limit": float64(10)}
	if _, err := tool.Exec(t.Context(), args); err != nil {
		t.Fatalf("exec 1: %v", err)
	}
	if _, err := tool.Exec(t.Context(), args); err != nil {
		t.Fatalf("exec 2: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected cache hit on second call, backend called %d times", calls)
	}
}

func TestDeleteContextRequiresConfirmation(t *testing.T) {
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tool := NewDeleteContext(d)
	res, err := tool.Exec(t.Context(), map[string]any{"context_id": "abc"})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected not_confirmed error without confirm=true")
	}
}

func TestUpsertFactRejectsEmptyValue(t *testing.T) {
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	tool := NewUpsertFact(d)
	res, err := tool.Exec(t.Context(), map[string]any{"fact_key": "k", "fact_value": "  "})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected invalid_fact_value error")
	}
}

func TestGetUserFactsClampsLimit(t *testing.T) {
	var gotLimit float64
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotLimit, _ = body["limit"].(float64)
		json.NewEncoder(w).Encode(map[string]any{"facts": []map[string]any{}, "total_count": 0})
	})
	d.Config.MaxUserFactsLimit = 200

	tool := NewGetUserFacts(d)
	if _, err := tool.Exec(t.Context(), map[string]any{"limit": float64(9999)}); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if gotLimit != 200 {
		t.Fatalf("expected limit clamped to 200, got %v", gotLimit)
	}
}

func TestQueryGraphRejectsWriteKeywordsInReadOnlyMode(t *testing.T) {
	called := false
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	d.Config.ReadOnlyGraph = true

	tool := NewQueryGraph(d)
	res, err := tool.Exec(t.Context(), map[string]any{"query": "MATCH (n) DELETE n"})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected write_not_allowed error")
	}
	if called {
		t.Fatal("backend must not be called for a rejected write query")
	}
}

func TestUpdateScratchpadRejectsOversizeContent(t *testing.T) {
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	d.Config.MaxScratchpadBytes = 8

	tool := NewUpdateScratchpad(d)
	res, err := tool.Exec(t.Context(), map[string]any{"agent_id": "a1", "content": "way too long for this limit"})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected content_too_large error")
	}
}

func TestBatchOperationsValidatesPerItem(t *testing.T) {
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "new-id"})
	})

	tool := NewBatchOperations(d)
	res, err := tool.Exec(t.Context(), map[string]any{
		"items": []any{
			map[string]any{"operation": "store", "context_type": "log", "content": map[string]any{"text": "hi"}},
			map[string]any{"operation": "update"}, // missing context_id, should fail validation
		},
	})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	data := decodeResultData(t, res)
	if data["failed"].(float64) != 1 {
		t.Fatalf("expected exactly 1 failed item, got %+v", data)
	}
	if data["successful"].(float64) != 1 {
		t.Fatalf("expected exactly 1 successful item, got %+v", data)
	}
}

func TestWebhookManagementRegisterUnregisterRoundTrip(t *testing.T) {
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	tool := NewWebhookManagement(d)

	reg, err := tool.Exec(t.Context(), map[string]any{
		"action": "register", "url": "https://example.com/hook",
		"event_types": []any{"context.stored"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.IsError {
		t.Fatalf("expected register success, got %+v", reg)
	}
	id, _ := decodeResultData(t, reg)["webhook_id"].(string)
	if id == "" {
		t.Fatal("expected a webhook_id in the register response")
	}

	unreg, err := tool.Exec(t.Context(), map[string]any{"action": "unregister", "webhook_id": id})
	if err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if unreg.IsError {
		t.Fatalf("expected unregister success, got %+v", unreg)
	}
}

func TestWebhookManagementRejectsInvalidURL(t *testing.T) {
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	tool := NewWebhookManagement(d)

	res, err := tool.Exec(t.Context(), map[string]any{"action": "register", "url": "not-a-url"})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected registration_failed for a non-http(s) URL")
	}
}

func TestListContextTypesIncludesDescriptionsByDefault(t *testing.T) {
	d := testDeps(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	tool := NewListContextTypes(d)

	res, err := tool.Exec(t.Context(), map[string]any{})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	data := decodeResultData(t, res)
	if _, ok := data["context_types"]; !ok {
		t.Fatalf("expected a 'context_types' key, got %+v", data)
	}
}
