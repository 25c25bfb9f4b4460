package tools

import (
	"context"
	"fmt"
	"strings"
)

// dangerousCypherKeywords are rejected in read-only mode, per
// query_graph's write-protection policy.
var dangerousCypherKeywords = []string{"CREATE", "DELETE", "SET", "REMOVE", "MERGE", "DROP", "DETACH"}

// NewQueryGraph builds the query_graph tool: executes a Cypher query
// against the graph backend, rejecting write keywords when the server
// is configured read-only, per spec.md §4.E.
func NewQueryGraph(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"query":      {Type: TypeString, Description: "Cypher query to execute (read-only operations only)"},
			"parameters": {Type: TypeObject, Description: "Optional parameters for the Cypher query"},
			"limit":      {Type: TypeInteger, Description: "Maximum number of results to return", Minimum: floatPtr(1), Maximum: floatPtr(float64(d.Config.GraphMaxResults))},
		},
		Required: []string{"query"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		query := strings.TrimSpace(argString(args, "query"))
		if query == "" {
			return Fail("invalid_query", "Query cannot be empty", nil), nil
		}

		if d.Config.ReadOnlyGraph {
			upper := strings.ToUpper(query)
			for _, kw := range dangerousCypherKeywords {
				if strings.Contains(upper, kw) {
					return Fail("write_not_allowed", fmt.Sprintf("Write operations (%s) not allowed in read-only mode", kw),
						map[string]any{"keyword": kw}), nil
				}
			}
		}

		parameters := argObject(args, "parameters")
		if parameters == nil {
			parameters = map[string]any{}
		}
		limit := clamp(argInt(args, "limit", d.Config.GraphMaxResults), 1, d.Config.GraphMaxResults)

		body := map[string]any{"query": query, "parameters": parameters, "limit": limit}
		var out struct {
			Records []map[string]any `json:"results"`
			Columns []string         `json:"columns"`
		}
		if err := d.Backend.PostJSON(ctx, "/tools/query_graph", body, true, &out); err != nil {
			return backendFailure(err), nil
		}

		text := "Query returned no results"
		if len(out.Records) > 0 {
			text = fmt.Sprintf("Query returned %d record(s)", len(out.Records))
		}

		return Success(text, map[string]any{
			"records": out.Records, "columns": out.Columns, "count": len(out.Records),
		}), nil
	}

	return &Tool{Descriptor: Descriptor{Name: "query_graph", Description: "Execute a read-only Cypher query against the graph database", Schema: schema}, Exec: exec}
}

func floatPtr(v float64) *float64 { return &v }
