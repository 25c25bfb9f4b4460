package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/veris-memory/mcp-server/internal/backend"
	"github.com/veris-memory/mcp-server/internal/cache"
	"github.com/veris-memory/mcp-server/internal/webhook"
)

// commonTextFields is the ordered list of content keys store_context
// tries when synthesizing the required "text" field, per spec.md §4.E.
var commonTextFields = []string{"text", "summary", "description", "content", "notes", "body"}

// synthesizeText joins common string fields into the content's "text"
// key if it is missing, per spec.md §4.E's "synthesize by joining common
// string fields" rule.
func synthesizeText(content map[string]any) {
	if v, ok := content["text"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return
		}
	}
	var parts []string
	for _, field := range commonTextFields {
		if field == "text" {
			continue
		}
		if v, ok := content[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) == 0 {
		for k, v := range content {
			if s, ok := v.(string); ok && s != "" {
				parts = append(parts, s)
				_ = k
			}
		}
	}
	content["text"] = strings.Join(parts, " ")
}

func contentSize(content map[string]any) int {
	size := 0
	for k, v := range content {
		size += len(k)
		if s, ok := v.(string); ok {
			size += len(s)
		} else {
			size += len(fmt.Sprintf("%v", v))
		}
	}
	return size
}

// NewStoreContext builds the store_context tool: content ≤
// MaxContentBytes, a synthesized text field, title merged into content,
// context-type mapping via the backend's policy, and a context.stored
// event on success.
func NewStoreContext(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"context_type": {Type: TypeString, Description: "Type of context being stored"},
			"content":      {Type: TypeObject, Description: "The context content"},
			"metadata":     {Type: TypeObject, Description: "Optional metadata for categorization and search"},
			"title":        {Type: TypeString, Description: "Optional title for the context"},
		},
		Required: []string{"context_type", "content"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		contextType := argString(args, "context_type")
		content := argObject(args, "content")
		if content == nil {
			content = map[string]any{}
		} else {
			copied := make(map[string]any, len(content))
			for k, v := range content {
				copied[k] = v
			}
			content = copied
		}
		metadata := argObject(args, "metadata")
		if metadata == nil {
			metadata = map[string]any{}
		}
		title := argString(args, "title")

		if title != "" {
			content["title"] = title
		}
		synthesizeText(content)

		if n := contentSize(content); n > d.Config.MaxContentBytes {
			return Fail("content_too_large", fmt.Sprintf("content size %d exceeds maximum of %d bytes", n, d.Config.MaxContentBytes), map[string]any{"size": n, "max": d.Config.MaxContentBytes}), nil
		}

		mapped, changed := backend.MapContextType(contextType)
		if changed {
			metadata["original_type"] = contextType
		}

		body := map[string]any{"content": content, "type": mapped, "metadata": metadata}

		var out struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
		}
		var storeErr error
		d.timeOperation("store_context", "store_context_duration_ms", func() (bool, string) {
			storeErr = d.Backend.PostJSON(ctx, "/tools/store_context", body, true, &out)
			if storeErr != nil {
				return false, errorType(storeErr)
			}
			return true, ""
		})
		if storeErr != nil {
			return backendFailure(storeErr), nil
		}

		d.Cache.InvalidateOperations("retrieve_context", "search_context")
		d.emit(webhook.Event{
			EventType: webhook.EventContextStored,
			EventID:   newEventID(),
			Timestamp: nowUnix(),
			Source:    "store_context",
			Data:      map[string]any{"context_id": out.ID, "context_type": contextType, "mapped_type": mapped},
		})

		text := fmt.Sprintf("Successfully stored %s context", contextType)
		if out.ID != "" {
			text += fmt.Sprintf(" with ID: %s", out.ID)
		}
		return Success(text, map[string]any{
			"context_id":   out.ID,
			"context_type": contextType,
			"mapped_type":  mapped,
			"timestamp":    out.CreatedAt,
			"metadata":     metadata,
		}), nil
	}

	return &Tool{Descriptor: Descriptor{Name: "store_context", Description: "Store context data with optional metadata for future retrieval", Schema: schema}, Exec: exec}
}

type retrievedContext struct {
	ID             string         `json:"id"`
	Content        map[string]any `json:"content"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      any            `json:"created_at"`
	RelevanceScore float64        `json:"relevance_score"`
}

func extractTitle(c retrievedContext) string {
	for _, field := range []string{"title", "name", "subject", "summary"} {
		if v, ok := c.Content[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				if len(s) > 100 {
					s = s[:100]
				}
				return s
			}
		}
	}
	id := c.ID
	if len(id) > 8 {
		id = id[:8]
	}
	typ, _ := c.Content["type"].(string)
	if typ == "" {
		typ = "Context"
	}
	return fmt.Sprintf("%s (%s)", strings.Title(typ), id)
}

func extractSummary(c retrievedContext) string {
	for _, field := range []string{"summary", "description", "text", "content"} {
		if v, ok := c.Content[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				if idx := strings.Index(s, "."); idx >= 0 && idx <= 200 {
					return s[:idx+1]
				}
				if len(s) > 200 {
					return s[:200] + "..."
				}
				return s
			}
		}
	}
	return "No summary available"
}

// NewRetrieveContext builds the retrieve_context tool: semantic search
// that rejects a limit outside [1, MaxResults] (it is not clamped) and
// an empty query, with result caching and relevance-sorted top-N
// formatting, per spec.md §4.E/§4.F.
func NewRetrieveContext(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"query":            {Type: TypeString, Description: "Search query for semantic matching"},
			"limit":            {Type: TypeInteger, Description: "Maximum number of results to return", Default: float64(d.Config.DefaultRetrieveLimit)},
			"context_type":     {Type: TypeString, Description: "Filter results by context type"},
			"metadata_filters": {Type: TypeObject, Description: "Filter results by metadata key-value pairs"},
		},
		Required: []string{"query"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		query := strings.TrimSpace(argString(args, "query"))
		if query == "" {
			return Fail("empty_query", "Query cannot be empty", nil), nil
		}

		limit := argInt(args, "limit", d.Config.DefaultRetrieveLimit)
		if limit < 1 || limit > d.Config.MaxResults {
			return Fail("invalid_limit", fmt.Sprintf("limit must be an integer between 1 and %d", d.Config.MaxResults), map[string]any{"limit": limit, "max_results": d.Config.MaxResults}), nil
		}

		contextType := argString(args, "context_type")
		metadataFilters := argObject(args, "metadata_filters")

		kwargs := map[string]any{"query": query, "limit": limit, "context_type": contextType, "metadata_filters": metadataFilters}
		key := cache.Key("retrieve_context", kwargs)

		if cached, ok := d.Cache.GetTagged(key); ok {
			return cached.(*Result), nil
		}

		body := map[string]any{"query": query, "limit": limit}
		if contextType != "" {
			body["type"] = contextType
		}
		if metadataFilters != nil {
			body["metadata_filters"] = metadataFilters
		}

		var out struct {
			Results []retrievedContext `json:"results"`
		}
		if err := d.Backend.PostJSON(ctx, "/tools/retrieve_context", body, true, &out); err != nil {
			return backendFailure(err), nil
		}

		sort.SliceStable(out.Results, func(i, j int) bool {
			return out.Results[i].RelevanceScore > out.Results[j].RelevanceScore
		})

		result := formatRetrieveResult(query, out.Results, contextType, metadataFilters)
		d.Cache.SetTagged(key, "retrieve_context", result, d.Config.CacheTTLRetrieve)
		return result, nil
	}

	return &Tool{Descriptor: Descriptor{Name: "retrieve_context", Description: "Search and retrieve context data using semantic search", Schema: schema}, Exec: exec}
}

func formatRetrieveResult(query string, results []retrievedContext, contextType string, metadataFilters map[string]any) *Result {
	if len(results) == 0 {
		return Success(fmt.Sprintf("No contexts found matching query: '%s'", query), map[string]any{
			"query": query, "results": []any{}, "count": 0,
		})
	}

	formatted := make([]map[string]any, 0, len(results))
	for _, c := range results {
		formatted = append(formatted, map[string]any{
			"id": c.ID, "title": extractTitle(c), "summary": extractSummary(c),
			"metadata": c.Metadata, "created_at": c.CreatedAt, "relevance_score": c.RelevanceScore,
		})
	}

	var b strings.Builder
	if len(results) == 1 {
		fmt.Fprintf(&b, "Found 1 context matching '%s'", query)
	} else {
		fmt.Fprintf(&b, "Found %d contexts matching '%s'", len(results), query)
	}
	var filters []string
	if contextType != "" {
		filters = append(filters, "type: "+contextType)
	}
	if len(metadataFilters) > 0 {
		keys := make([]string, 0, len(metadataFilters))
		for k := range metadataFilters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, metadataFilters[k]))
		}
		filters = append(filters, "metadata: "+strings.Join(parts, ", "))
	}
	if len(filters) > 0 {
		fmt.Fprintf(&b, " (filtered by %s)", strings.Join(filters, ", "))
	}
	b.WriteString(":")

	top := results
	if len(top) > 3 {
		top = top[:3]
	}
	for i, c := range top {
		typ, _ := c.Content["type"].(string)
		if typ == "" {
			typ = "unknown"
		}
		fmt.Fprintf(&b, "\n%d. [%s] %s", i+1, typ, extractTitle(c))
	}
	if len(results) > 3 {
		fmt.Fprintf(&b, "\n... and %d more results", len(results)-3)
	}

	return Success(b.String(), map[string]any{"query": query, "results": formatted, "count": len(results)})
}

// NewSearchContext builds the search_context tool: advanced filtered
// search, with the full upstream result object passed through verbatim.
func NewSearchContext(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"query":   {Type: TypeString, Description: "Search query for semantic matching"},
			"filters": {Type: TypeObject, Description: "Advanced search filters including date ranges, metadata, etc."},
			"limit":   {Type: TypeInteger, Description: "Maximum results", Default: float64(d.Config.DefaultRetrieveLimit)},
		},
		Required: []string{"query"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		query := strings.TrimSpace(argString(args, "query"))
		if query == "" {
			return Fail("empty_query", "Query cannot be empty", nil), nil
		}
		limit := argInt(args, "limit", d.Config.DefaultRetrieveLimit)
		if limit < 1 || limit > d.Config.MaxResults {
			return Fail("invalid_limit", fmt.Sprintf("limit must be between 1 and %d", d.Config.MaxResults), nil), nil
		}
		filters := argObject(args, "filters")

		kwargs := map[string]any{"query": query, "filters": filters, "limit": limit}
		key := cache.Key("search_context", kwargs)
		if cached, ok := d.Cache.GetTagged(key); ok {
			return cached.(*Result), nil
		}

		body := map[string]any{"query": query, "filters": filters, "limit": limit}
		var out map[string]any
		if err := d.Backend.PostJSON(ctx, "/tools/search_context", body, true, &out); err != nil {
			return backendFailure(err), nil
		}

		resultCount := 0
		if results, ok := out["results"].([]any); ok {
			resultCount = len(results)
		}

		result := Success(fmt.Sprintf("Search completed for '%s' with %d results", query, resultCount), out)
		d.Cache.SetTagged(key, "search_context", result, d.Config.CacheTTLSearch)
		return result, nil
	}

	return &Tool{Descriptor: Descriptor{Name: "search_context", Description: "Advanced search of contexts with complex filtering and sorting options", Schema: schema}, Exec: exec}
}

// NewDeleteContext builds the delete_context tool: hard delete gated on
// an explicit confirm=true.
func NewDeleteContext(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"context_id": {Type: TypeString, Description: "ID of the context to delete"},
			"confirm":    {Type: TypeBoolean, Description: "Confirmation that you want to delete this context"},
		},
		Required: []string{"context_id", "confirm"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		id := strings.TrimSpace(argString(args, "context_id"))
		if id == "" {
			return Fail("empty_context_id", "Context ID cannot be empty", nil), nil
		}
		if !argBool(args, "confirm", false) {
			return Fail("not_confirmed", "Deletion requires explicit confirmation", nil), nil
		}

		var out map[string]any
		if err := d.Backend.PostJSON(ctx, "/tools/delete_context", map[string]any{"context_id": id}, false, &out); err != nil {
			return backendFailure(err), nil
		}

		d.Cache.InvalidateOperations("retrieve_context", "search_context")
		d.emit(webhook.Event{
			EventType: webhook.EventContextDeleted, EventID: newEventID(), Timestamp: nowUnix(),
			Source: "delete_context", Data: map[string]any{"context_id": id},
		})

		return Success(fmt.Sprintf("Successfully deleted context: %s", id), out), nil
	}

	return &Tool{Descriptor: Descriptor{Name: "delete_context", Description: "Delete a context (requires confirmation)", Schema: schema}, Exec: exec}
}

// curatedTypeDescriptions supplements list_context_types when the
// upstream allowed-type list overlaps these common names.
var curatedTypeDescriptions = map[string]string{
	"design":   "Architectural decisions, design choices, and strategic determinations",
	"decision": "Strategic determinations, plans, and future direction",
	"trace":    "Debugging history, investigation traces, and context threads",
	"sprint":   "Sprint summaries, planning notes, and iteration records",
	"log":      "General-purpose logs and uncategorized notes",
}

// NewListContextTypes builds the list_context_types tool: the closed set
// the backend accepts, optionally annotated with curated descriptions.
func NewListContextTypes(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"include_descriptions": {Type: TypeBoolean, Description: "Include descriptions of each context type", Default: true},
		},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		includeDescriptions := argBool(args, "include_descriptions", true)

		key := cache.Key("list_context_types", map[string]any{"include_descriptions": includeDescriptions})
		if cached, ok := d.Cache.GetTagged(key); ok {
			return cached.(*Result), nil
		}

		types := make([]string, 0, len(backend.AllowedContextTypes))
		for t := range backend.AllowedContextTypes {
			types = append(types, t)
		}
		sort.Strings(types)

		var result *Result
		if includeDescriptions {
			formatted := make([]map[string]any, 0, len(types))
			var b strings.Builder
			fmt.Fprintf(&b, "Found %d available context types:", len(types))
			for _, t := range types {
				desc := curatedTypeDescriptions[t]
				if desc == "" {
					desc = "Custom context type"
				}
				formatted = append(formatted, map[string]any{"type": t, "description": desc})
				fmt.Fprintf(&b, "\n• %s: %s", t, desc)
			}
			result = Success(b.String(), map[string]any{"context_types": formatted, "count": len(types)})
		} else {
			result = Success(fmt.Sprintf("Available context types: %s", strings.Join(types, ", ")), map[string]any{"context_types": types, "count": len(types)})
		}

		d.Cache.SetTagged(key, "list_context_types", result, d.Config.CacheTTLListTypes)
		return result, nil
	}

	return &Tool{Descriptor: Descriptor{Name: "list_context_types", Description: "Get available context types and their descriptions", Schema: schema}, Exec: exec}
}

func errorType(err error) string {
	if _, ok := err.(*backend.Error); ok {
		return "backend_error"
	}
	return "internal_error"
}

// backendFailure maps a backend.Error/network error onto the
// veris_memory_error tool-result shape of spec.md §7.
func backendFailure(err error) *Result {
	if be, ok := err.(*backend.Error); ok {
		return Fail("veris_memory_error", fmt.Sprintf("backend returned status %d", be.StatusCode), map[string]any{"original_error": be.Error()})
	}
	return Fail("veris_memory_error", err.Error(), nil)
}
