package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// Expose renders the latest aggregation snapshot as Prometheus text
// format, deterministically (sorted series). This is a read-side
// serialization of the same in-memory state Aggregate() computes; it is
// exposed over the optional ops HTTP listener (SPEC_FULL.md §4.K), never
// over the MCP wire.
func Expose(aggs []Aggregated) string {
	sorted := make([]Aggregated, len(aggs))
	copy(sorted, aggs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for _, a := range sorted {
		name := sanitizeMetricName(a.Name)
		labels := formatLabels(a.Labels)
		switch a.Type {
		case TypeCounter:
			fmt.Fprintf(&b, "%s_total%s %g\n", name, labels, a.Sum)
		case TypeGauge:
			fmt.Fprintf(&b, "%s%s %g\n", name, labels, a.Current)
		case TypeHistogram, TypeTimer:
			fmt.Fprintf(&b, "%s_count%s %d\n", name, labels, a.Count)
			fmt.Fprintf(&b, "%s_sum%s %g\n", name, labels, a.Sum)
			fmt.Fprintf(&b, "%s_p50%s %g\n", name, labels, a.P50)
			fmt.Fprintf(&b, "%s_p95%s %g\n", name, labels, a.P95)
			fmt.Fprintf(&b, "%s_p99%s %g\n", name, labels, a.P99)
		}
	}
	return b.String()
}

func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
