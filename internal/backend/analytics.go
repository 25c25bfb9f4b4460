package backend

import (
	"context"
	"fmt"
)

// DashboardAnalytics is the raw upstream payload shape consumed by the
// analytics/metrics facades (spec.md §4.D, §9 open question on upstream
// key assumptions). Missing keys degrade to zero rather than erroring.
type DashboardAnalytics struct {
	Analytics struct {
		GlobalRequestStats struct {
			TotalRequests      int     `json:"total_requests"`
			AvgDurationMs      float64 `json:"avg_duration_ms"`
			P95DurationMs      float64 `json:"p95_duration_ms"`
			P99DurationMs      float64 `json:"p99_duration_ms"`
			ErrorRatePercent   float64 `json:"error_rate_percent"`
			RequestsPerMinute  float64 `json:"requests_per_minute"`
		} `json:"global_request_stats"`
		EndpointStatistics map[string]struct {
			Count int `json:"count"`
		} `json:"endpoint_statistics"`
		TrendingData []map[string]any `json:"trending_data"`
		Recommendations []string `json:"recommendations"`
	} `json:"analytics"`
}

// GetDashboardAnalytics fetches GET /api/dashboard/analytics, per
// spec.md §6's endpoint table.
func (c *Client) GetDashboardAnalytics(ctx context.Context, minutes int, includeInsights bool) (*DashboardAnalytics, error) {
	path := fmt.Sprintf("/api/dashboard/analytics?minutes=%d&include_insights=%t", minutes, includeInsights)
	var out DashboardAnalytics
	if err := c.GetJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CountEndpointRequests returns the request count for the named
// endpoint, or 0 if the upstream never reported it.
func (d *DashboardAnalytics) CountEndpointRequests(endpoint string) int {
	if d == nil {
		return 0
	}
	if stats, ok := d.Analytics.EndpointStatistics[endpoint]; ok {
		return stats.Count
	}
	return 0
}
