package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/veris-memory/mcp-server/internal/backend"
	"github.com/veris-memory/mcp-server/internal/cache"
	"github.com/veris-memory/mcp-server/internal/metrics"
)

// analyticsViews are the four fixed shapes the analytics facade
// transforms the upstream dashboard payload into, per spec.md §4.D.
var analyticsViews = []string{"usage_stats", "performance_insights", "real_time_metrics", "summary"}

// NewAnalytics builds the analytics tool: a read-only facade over
// GET /api/dashboard/analytics, cached 30s per spec.md §4.D.
func NewAnalytics(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"view":             {Type: TypeString, Description: "Which fixed shape to return", Enum: analyticsViews, Default: "summary"},
			"minutes":          {Type: TypeInteger, Description: "Lookback window in minutes", Default: float64(60)},
			"include_insights": {Type: TypeBoolean, Description: "Whether to request upstream insight recommendations", Default: true},
		},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		view := argString(args, "view")
		if view == "" {
			view = "summary"
		}
		minutes := argInt(args, "minutes", 60)
		includeInsights := argBool(args, "include_insights", true)

		kwargs := map[string]any{"view": view, "minutes": minutes, "include_insights": includeInsights}
		key := cache.Key("analytics", kwargs)
		if cached, ok := d.Cache.GetTagged(key); ok {
			if res, ok := cached.(*Result); ok {
				return res, nil
			}
		}

		dash, err := d.Backend.GetDashboardAnalytics(ctx, minutes, includeInsights)
		if err != nil {
			return backendFailure(err), nil
		}

		data := renderAnalyticsView(view, dash)
		text := fmt.Sprintf("Analytics view '%s' for the last %d minute(s)", view, minutes)
		result := Success(text, data)
		d.Cache.SetTagged(key, "analytics", result, d.Config.AnalyticsCacheTTL)
		return result, nil
	}

	return &Tool{Descriptor: Descriptor{Name: "analytics", Description: "Read-only dashboard analytics facade", Schema: schema}, Exec: exec}
}

func renderAnalyticsView(view string, dash *backend.DashboardAnalytics) map[string]any {
	global := dash.Analytics.GlobalRequestStats
	switch view {
	case "usage_stats":
		return map[string]any{
			"total_requests":     global.TotalRequests,
			"requests_per_minute": global.RequestsPerMinute,
			"endpoint_counts":     endpointCounts(dash),
		}
	case "performance_insights":
		return map[string]any{
			"avg_duration_ms": global.AvgDurationMs,
			"p95_duration_ms": global.P95DurationMs,
			"p99_duration_ms": global.P99DurationMs,
			"recommendations": dash.Analytics.Recommendations,
		}
	case "real_time_metrics":
		return map[string]any{
			"requests_per_minute": global.RequestsPerMinute,
			"error_rate_percent":  global.ErrorRatePercent,
			"trending_data":       dash.Analytics.TrendingData,
		}
	default: // summary
		return map[string]any{
			"total_requests":      global.TotalRequests,
			"avg_duration_ms":     global.AvgDurationMs,
			"error_rate_percent":  global.ErrorRatePercent,
			"requests_per_minute": global.RequestsPerMinute,
		}
	}
}

func endpointCounts(dash *backend.DashboardAnalytics) map[string]int {
	out := make(map[string]int, len(dash.Analytics.EndpointStatistics))
	for endpoint := range dash.Analytics.EndpointStatistics {
		out[endpoint] = dash.CountEndpointRequests(endpoint)
	}
	return out
}

// NewMetrics builds the metrics tool: a read-only facade over the local
// metrics collector's windowed aggregation, cached 60s per spec.md §4.D.
func NewMetrics(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"window_seconds": {Type: TypeInteger, Description: "Aggregation window in seconds", Default: float64(60)},
			"series":         {Type: TypeString, Description: "Restrict to a single series name; empty means all"},
		},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		windowSeconds := argInt(args, "window_seconds", 60)
		seriesFilter := argString(args, "series")

		kwargs := map[string]any{"window_seconds": windowSeconds, "series": seriesFilter}
		key := cache.Key("metrics", kwargs)
		if cached, ok := d.Cache.GetTagged(key); ok {
			if res, ok := cached.(*Result); ok {
				return res, nil
			}
		}

		if d.Metrics == nil {
			return Success("Metrics collector is disabled", map[string]any{"series": []any{}}), nil
		}

		window := time.Duration(windowSeconds) * time.Second
		aggs := d.Metrics.Aggregate(time.Now(), window)

		series := make([]map[string]any, 0, len(aggs))
		for _, a := range aggs {
			if seriesFilter != "" && a.Name != seriesFilter {
				continue
			}
			series = append(series, renderAggregated(a))
		}

		text := fmt.Sprintf("Aggregated %d series over the last %ds", len(series), windowSeconds)
		result := Success(text, map[string]any{"series": series, "count": len(series)})
		d.Cache.SetTagged(key, "metrics", result, d.Config.MetricsFacadeCacheTTL)
		return result, nil
	}

	return &Tool{Descriptor: Descriptor{Name: "metrics", Description: "Read-only aggregated view of collected metrics", Schema: schema}, Exec: exec}
}

func renderAggregated(a metrics.Aggregated) map[string]any {
	out := map[string]any{
		"name": a.Name, "type": string(a.Type), "labels": a.Labels, "count": a.Count,
		"window_start": a.WindowStart, "window_end": a.WindowEnd,
	}
	switch a.Type {
	case metrics.TypeCounter:
		out["sum"] = a.Sum
	case metrics.TypeGauge:
		out["current"] = a.Current
		out["min"] = a.Min
		out["max"] = a.Max
		out["avg"] = a.Avg
	case metrics.TypeHistogram, metrics.TypeTimer:
		out["sum"] = a.Sum
		out["min"] = a.Min
		out["max"] = a.Max
		out["avg"] = a.Avg
		out["p50"] = a.P50
		out["p95"] = a.P95
		out["p99"] = a.P99
	}
	return out
}
