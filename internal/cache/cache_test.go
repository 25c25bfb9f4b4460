package cache

import (
	"testing"
	"time"

	"github.com/veris-memory/mcp-server/internal/obslog"
)

func TestGetMissAndSetHit(t *testing.T) {
	c := New(10)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("k", "v", time.Minute)
	v, ok := c.Get("k")
	if !ok || v != "v" {
		t.Fatalf("got (%v, %v), want (v, true)", v, ok)
	}
}

func TestExpiredEntryEvictedOnAccess(t *testing.T) {
	c := New(10)
	c.Set("k", "v", -time.Second) // already expired
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss for expired entry")
	}
	if _, ok := c.items["k"]; ok {
		t.Fatal("expired entry should have been removed from the map")
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	c := New(2)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Get("a") // touch a, making b the LRU victim
	c.Set("c", 3, time.Minute)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to have been evicted as least-recently-used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to be present")
	}
}

func TestKeyDeterministicAcrossMapOrdering(t *testing.T) {
	k1 := Key("retrieve_context", map[string]any{"query": "x", "limit": 5})
	k2 := Key("retrieve_context", map[string]any{"limit": 5, "query": "x"})
	if k1 != k2 {
		t.Fatalf("key must not depend on map iteration order: %s != %s", k1, k2)
	}
	k3 := Key("search_context", map[string]any{"query": "x", "limit": 5})
	if k1 == k3 {
		t.Fatal("key must depend on operation name")
	}
}

func TestInvalidateOperations(t *testing.T) {
	c := New(10)
	c.SetTagged("k1", "retrieve_context", "v1", time.Minute)
	c.SetTagged("k2", "search_context", "v2", time.Minute)
	c.SetTagged("k3", "list_context_types", "v3", time.Minute)

	c.InvalidateOperations("retrieve_context", "search_context")

	if _, ok := c.GetTagged("k1"); ok {
		t.Error("k1 should be invalidated")
	}
	if _, ok := c.GetTagged("k2"); ok {
		t.Error("k2 should be invalidated")
	}
	if _, ok := c.GetTagged("k3"); !ok {
		t.Error("k3 should survive (different operation)")
	}
}

func TestSweeperRemovesExpiredEntries(t *testing.T) {
	c := New(10)
	c.Set("a", 1, -time.Second)
	c.Set("b", 2, time.Minute)

	n := c.sweepExpired(time.Now())
	if n != 1 {
		t.Fatalf("expected 1 sweep removal, got %d", n)
	}
	stats := c.Stats()
	if stats.Size != 1 {
		t.Fatalf("expected size 1 after sweep, got %d", stats.Size)
	}
}

func TestSweepTickRecoversPanic(t *testing.T) {
	// A nil cache makes sweepExpired panic on its mutex; sweepTick must
	// recover that and log it rather than crashing the sweep goroutine,
	// per spec.md §7.
	s := &Sweeper{cache: nil, logger: obslog.Noop(), stopCh: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		s.sweepTick()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweepTick did not return after a panicking sweep pass")
	}
}
