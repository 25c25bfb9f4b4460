package metrics

import (
	"sort"
	"time"
)

// Aggregated is one series' aggregation result over a window, per
// spec.md §4.H's per-type shapes.
type Aggregated struct {
	Name        string
	Type        Type
	Labels      map[string]string
	WindowStart time.Time
	WindowEnd   time.Time
	Count       int

	// counter
	Sum float64

	// gauge
	Current float64
	Min     float64
	Max     float64
	Avg     float64

	// histogram / timer
	P50 float64
	P95 float64
	P99 float64
}

// Aggregate groups every series' points within [now-window, now] and
// computes the per-type shape from spec.md §4.H.
func (c *Collector) Aggregate(now time.Time, window time.Duration) []Aggregated {
	windowStart := now.Add(-window)

	c.mu.RLock()
	snapshot := make(map[string]*series, len(c.series))
	for k, s := range c.series {
		snapshot[k] = s
	}
	c.mu.RUnlock()

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]Aggregated, 0, len(keys))
	for _, k := range keys {
		s := snapshot[k]

		c.mu.RLock()
		points := s.snapshot()
		c.mu.RUnlock()

		var inWindow []Point
		for _, p := range points {
			if !p.Timestamp.Before(windowStart) && !p.Timestamp.After(now) {
				inWindow = append(inWindow, p)
			}
		}
		if len(inWindow) == 0 {
			continue
		}

		agg := Aggregated{
			Name: s.name, Type: s.typ, Labels: s.labels,
			WindowStart: windowStart, WindowEnd: now, Count: len(inWindow),
		}

		switch s.typ {
		case TypeCounter:
			for _, p := range inWindow {
				agg.Sum += p.Value
			}
		case TypeGauge:
			agg.Current = inWindow[len(inWindow)-1].Value
			agg.Min, agg.Max = inWindow[0].Value, inWindow[0].Value
			var sum float64
			for _, p := range inWindow {
				sum += p.Value
				if p.Value < agg.Min {
					agg.Min = p.Value
				}
				if p.Value > agg.Max {
					agg.Max = p.Value
				}
			}
			agg.Avg = sum / float64(len(inWindow))
		case TypeHistogram, TypeTimer:
			values := make([]float64, len(inWindow))
			var sum float64
			for i, p := range inWindow {
				values[i] = p.Value
				sum += p.Value
			}
			sort.Float64s(values)
			agg.Sum = sum
			agg.Min, agg.Max = values[0], values[len(values)-1]
			agg.Avg = sum / float64(len(values))
			agg.P50 = linearPercentile(values, 50)
			agg.P95 = linearPercentile(values, 95)
			agg.P99 = linearPercentile(values, 99)
		}

		results = append(results, agg)
	}
	return results
}

// linearPercentile computes the p-th percentile of a pre-sorted slice
// using linear interpolation between the two closest ranks.
func linearPercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := (p / 100.0) * float64(n-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
