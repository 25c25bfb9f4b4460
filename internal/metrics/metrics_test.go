package metrics

import (
	"testing"
	"time"
)

func TestLinearPercentileInterpolates(t *testing.T) {
	values := []float64{10, 20, 30, 40}
	// rank = 0.95*3 = 2.85 -> between index 2 (30) and 3 (40)
	got := linearPercentile(values, 95)
	want := 30 + 0.85*(40-30)
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("p95 = %v, want %v", got, want)
	}
	if linearPercentile([]float64{5}, 99) != 5 {
		t.Fatal("single-value series should return that value for any percentile")
	}
	if linearPercentile(nil, 50) != 0 {
		t.Fatal("empty series should return 0")
	}
}

func TestCounterAggregationSumsAllPointsInWindow(t *testing.T) {
	c := NewCollector(DefaultConfig())
	for i := 0; i < 5; i++ {
		c.Record("requests", 1, TypeCounter, nil)
	}
	aggs := c.Aggregate(time.Now().Add(time.Second), time.Minute)
	if len(aggs) != 1 {
		t.Fatalf("expected 1 series, got %d", len(aggs))
	}
	if aggs[0].Sum != 5 {
		t.Fatalf("counter sum = %v, want 5 (spec.md invariant 8)", aggs[0].Sum)
	}
	if aggs[0].Count != 5 {
		t.Fatalf("counter count = %v, want 5", aggs[0].Count)
	}
}

func TestHistogramAggregationComputesPercentiles(t *testing.T) {
	c := NewCollector(DefaultConfig())
	for _, v := range []float64{10, 20, 30, 40, 50} {
		c.Record("latency_ms", v, TypeHistogram, nil)
	}
	aggs := c.Aggregate(time.Now().Add(time.Second), time.Minute)
	if len(aggs) != 1 {
		t.Fatalf("expected 1 series, got %d", len(aggs))
	}
	agg := aggs[0]
	if agg.Min != 10 || agg.Max != 50 {
		t.Fatalf("min/max = %v/%v, want 10/50", agg.Min, agg.Max)
	}
	if agg.P50 != 30 {
		t.Fatalf("p50 = %v, want 30 (median of 5 sorted points)", agg.P50)
	}
}

func TestOverflowCountsRingBufferDrops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPointsPerSeries = 3
	c := NewCollector(cfg)
	for i := 0; i < 5; i++ {
		c.Record("events", float64(i), TypeCounter, nil)
	}
	if got := c.OverflowCount("events", nil); got != 2 {
		t.Fatalf("overflow count = %d, want 2 (5 - capacity 3)", got)
	}
}

func TestStartCompleteOperationRecordsDuration(t *testing.T) {
	c := NewCollector(DefaultConfig())
	c.StartOperation("op-1")
	time.Sleep(5 * time.Millisecond)
	c.CompleteOperation("op-1", "tool_latency_ms", true, "")

	aggs := c.Aggregate(time.Now().Add(time.Second), time.Minute)
	if len(aggs) != 1 {
		t.Fatalf("expected 1 series, got %d", len(aggs))
	}
	if aggs[0].Min <= 0 {
		t.Fatalf("expected a positive recorded duration, got %v", aggs[0].Min)
	}
}

func TestSeriesKeyOrderIndependence(t *testing.T) {
	k1 := SeriesKey("x", map[string]string{"a": "1", "b": "2"})
	k2 := SeriesKey("x", map[string]string{"b": "2", "a": "1"})
	if k1 != k2 {
		t.Fatalf("series key must not depend on map order: %s != %s", k1, k2)
	}
}

func TestExposeFormatsCounterAndHistogram(t *testing.T) {
	out := Expose([]Aggregated{
		{Name: "events", Type: TypeCounter, Sum: 3},
		{Name: "latency.ms", Type: TypeHistogram, Count: 2, Sum: 30, P50: 15, P95: 20, P99: 20},
	})
	if !contains(out, "events_total 3") {
		t.Errorf("missing counter line in:\n%s", out)
	}
	if !contains(out, "latency_ms_p50 15") {
		t.Errorf("missing sanitized histogram p50 line in:\n%s", out)
	}
}

func TestAggregationTickSurvivesPanicInOnWindow(t *testing.T) {
	c := NewCollector(DefaultConfig())
	c.Record("requests", 1, TypeCounter, nil)

	calls := 0
	a := NewAggregator(c, func([]Aggregated) {
		calls++
		panic("boom")
	})

	// runAggregationTick is the per-tick body the background goroutine
	// calls; it must recover a panicking onWindow and return normally so
	// the ticker loop keeps running (spec.md §7).
	a.runAggregationTick()
	a.runAggregationTick()

	if calls != 2 {
		t.Fatalf("onWindow called %d times, want 2 (a panic must not stop the next tick)", calls)
	}
}

func TestCleanupTickRunsAfterAggregationPanic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention = time.Millisecond
	c := NewCollector(cfg)
	c.Record("requests", 1, TypeCounter, nil)

	// evictOlderThan itself can't be made to panic without reaching into
	// unexported state, so this exercises the recover wrapper directly:
	// a panicking onWindow-equivalent path (aggregation) must not prevent
	// a later cleanup tick from running cleanly.
	a := NewAggregator(c, func([]Aggregated) { panic("boom") })
	a.runAggregationTick()
	a.runCleanupTick()

	if got := c.OverflowCount("requests", nil); got != 0 {
		t.Fatalf("overflow count = %d, want 0", got)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
