package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIterateTerminatesOnShortPage(t *testing.T) {
	fetch := func(ctx context.Context, query string, offset, limit int) ([]map[string]any, error) {
		if offset == 0 {
			return make([]map[string]any, limit), nil // full page
		}
		return make([]map[string]any, 1), nil // short page -> last
	}

	limiter := NewConcurrencyLimiter(2)
	cfg := IteratorConfig{ChunkSize: 10, MaxResults: 1000, InterPageDelay: time.Millisecond}
	chunks := drain(t, Iterate(context.Background(), limiter, fetch, "q", cfg))

	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	last := chunks[len(chunks)-1]
	if !last.IsFinal {
		t.Fatal("last chunk must have IsFinal=true")
	}
	if limiter.Current() != 0 {
		t.Fatalf("limiter must be released after completion, got current=%d", limiter.Current())
	}
}

func TestIterateStopsAtMaxResults(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, query string, offset, limit int) ([]map[string]any, error) {
		calls++
		return make([]map[string]any, limit), nil // always full pages
	}
	limiter := NewConcurrencyLimiter(1)
	cfg := IteratorConfig{ChunkSize: 50, MaxResults: 100, InterPageDelay: 0}
	chunks := drain(t, Iterate(context.Background(), limiter, fetch, "q", cfg))

	total := 0
	for _, c := range chunks {
		total += len(c.Data)
	}
	if total != 100 {
		t.Fatalf("expected exactly MaxResults=100 results, got %d", total)
	}
}

func TestIterateErrorYieldsErrorThenFinalChunk(t *testing.T) {
	fetch := func(ctx context.Context, query string, offset, limit int) ([]map[string]any, error) {
		return nil, errors.New("backend down")
	}
	limiter := NewConcurrencyLimiter(1)
	chunks := drain(t, Iterate(context.Background(), limiter, fetch, "q", DefaultIteratorConfig()))

	if len(chunks) != 2 {
		t.Fatalf("expected error chunk + final chunk, got %d chunks", len(chunks))
	}
	if chunks[0].Err == nil {
		t.Fatal("expected first chunk to carry the error")
	}
	if !chunks[1].IsFinal {
		t.Fatal("expected second chunk to be final")
	}
}

func drain(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestConcurrencyLimiterBlocksAtMax(t *testing.T) {
	l := NewConcurrencyLimiter(1)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = l.Acquire(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked while at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should have proceeded after release")
	}
}

func TestConcurrencyLimiterCancellation(t *testing.T) {
	l := NewConcurrencyLimiter(1)
	_ = l.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestValidateItem(t *testing.T) {
	tests := []struct {
		name    string
		item    BatchItem
		wantErr bool
	}{
		{"store ok", BatchItem{Operation: "store", ContextType: "log", Content: map[string]any{"text": "x"}}, false},
		{"store missing type", BatchItem{Operation: "store", Content: map[string]any{"text": "x"}}, true},
		{"store missing content", BatchItem{Operation: "store", ContextType: "log"}, true},
		{"update ok", BatchItem{Operation: "update", ContextID: "c1"}, false},
		{"update missing id", BatchItem{Operation: "update"}, true},
		{"delete missing id", BatchItem{Operation: "delete"}, true},
		{"unknown op", BatchItem{Operation: "frobnicate"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateItem(tt.item)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateItem() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunBatchAggregatesResults(t *testing.T) {
	items := []BatchItem{
		{Operation: "store", ContextType: "log", Content: map[string]any{"text": "a"}},
		{Operation: "store", ContextType: "log", Content: map[string]any{"text": "b"}},
		{Operation: "delete"}, // invalid: missing context_id
	}

	exec := func(ctx context.Context, item BatchItem) error { return nil }
	result := RunBatch(context.Background(), items, 2, time.Millisecond, exec)

	if result.Total != 3 || result.Successful != 2 || result.Failed != 1 {
		t.Fatalf("got %+v", result)
	}
}
