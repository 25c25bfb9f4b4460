package health

import (
	"context"
	"testing"
	"time"
)

func ok(ctx context.Context) (bool, string, error)   { return true, "", nil }
func bad(ctx context.Context) (bool, string, error)  { return false, "down", nil }
func slow(ctx context.Context) (bool, string, error) {
	time.Sleep(100 * time.Millisecond)
	return true, "", nil
}

func TestAggregateHealthyWhenAllPass(t *testing.T) {
	r := NewRegistry()
	r.Register(Check{Name: "a", Fn: ok, Critical: true})
	r.Register(Check{Name: "b", Fn: ok, Critical: false})

	report := r.RunAll(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("status = %v, want healthy", report.Status)
	}
}

func TestCriticalFailureIsUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(Check{Name: "backend", Fn: bad, Critical: true})
	r.Register(Check{Name: "cache", Fn: ok, Critical: false})

	report := r.RunAll(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("status = %v, want unhealthy", report.Status)
	}
}

func TestNonCriticalFailureIsDegraded(t *testing.T) {
	r := NewRegistry()
	r.Register(Check{Name: "backend", Fn: ok, Critical: true})
	r.Register(Check{Name: "cache", Fn: bad, Critical: false})

	report := r.RunAll(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("status = %v, want degraded", report.Status)
	}
}

func TestCheckTimeoutMarksUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(Check{Name: "slow", Fn: slow, Timeout: 10 * time.Millisecond, Critical: true})

	report := r.RunAll(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("status = %v, want unhealthy on timeout", report.Status)
	}
	if report.Checks[0].Detail != "timed out" {
		t.Fatalf("detail = %q, want 'timed out'", report.Checks[0].Detail)
	}
}
