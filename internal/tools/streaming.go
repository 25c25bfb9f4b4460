package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/veris-memory/mcp-server/internal/stream"
	"github.com/veris-memory/mcp-server/internal/webhook"
)

// NewStreamingSearch builds the streaming_search tool: drains the chunk
// channel from stream.Iterate, fetching pages from the backend's
// search_context endpoint with offset/limit pagination, and returns the
// accumulated result set plus the final summary, per spec.md §4.G.
//
// MCP tool calls are request/response; there is no mechanism in this
// protocol version to push intermediate chunks to the client, so the
// tool drains the iterator fully and reports the aggregate. Progress
// notifications are still emitted per chunk via Deps.Notify so a host
// that polls notifications/progress can observe intermediate state.
func NewStreamingSearch(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"query":       {Type: TypeString, Description: "Search query"},
			"chunk_size":  {Type: TypeInteger, Description: "Page size for each backend fetch", Default: float64(d.Config.StreamConfig.ChunkSize)},
			"max_results": {Type: TypeInteger, Description: "Maximum total results to stream", Default: float64(d.Config.StreamConfig.MaxResults)},
		},
		Required: []string{"query"},
	}

	fetch := func(ctx context.Context, query string, offset, limit int) ([]map[string]any, error) {
		var out struct {
			Results []map[string]any `json:"results"`
		}
		body := map[string]any{"query": query, "offset": offset, "limit": limit}
		if err := d.Backend.PostJSON(ctx, "/tools/search_context", body, true, &out); err != nil {
			return nil, err
		}
		return out.Results, nil
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		query := strings.TrimSpace(argString(args, "query"))
		if query == "" {
			return Fail("empty_query", "Query cannot be empty", nil), nil
		}

		cfg := d.Config.StreamConfig
		if v := argInt(args, "chunk_size", cfg.ChunkSize); v > 0 {
			cfg.ChunkSize = v
		}
		if v := argInt(args, "max_results", cfg.MaxResults); v > 0 {
			cfg.MaxResults = v
		}

		d.emit(webhook.Event{
			EventType: webhook.EventStreamStarted, EventID: newEventID(), Timestamp: nowUnix(),
			Source: "streaming_search", Data: map[string]any{"query": query},
		})

		var collected []map[string]any
		var summary map[string]any
		var streamErr error

		for chunk := range stream.Iterate(ctx, d.StreamLimiter, fetch, query, cfg) {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			if !chunk.IsFinal {
				collected = append(collected, chunk.Data...)
				d.notify("notifications/progress", map[string]any{
					"operation": "streaming_search", "sequence": chunk.Sequence, "count": len(chunk.Data),
				})
				continue
			}
			summary = chunk.Metadata
		}

		if streamErr != nil {
			return Fail("stream_failed", fmt.Sprintf("Streaming search failed: %v", streamErr), summary), nil
		}

		d.emit(webhook.Event{
			EventType: webhook.EventStreamCompleted, EventID: newEventID(), Timestamp: nowUnix(),
			Source: "streaming_search", Data: summary,
		})

		text := fmt.Sprintf("Streamed %d result(s) for '%s'", len(collected), query)
		return Success(text, map[string]any{"results": collected, "summary": summary}), nil
	}

	return &Tool{Descriptor: Descriptor{Name: "streaming_search", Description: "Search with chunked, paginated delivery for large result sets", Schema: schema}, Exec: exec}
}

// batchItemSchema describes one entry of the batch_operations "items" array.
var batchItemSchema = &PropertySchema{
	Type: TypeObject,
}

// NewBatchOperations builds the batch_operations tool: parses a list of
// store/update/delete items and runs them through stream.RunBatch with
// per-item retry, per spec.md §4.G.
func NewBatchOperations(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"items":      {Type: TypeArray, Description: "Batch items to process", Items: batchItemSchema},
			"batch_size": {Type: TypeInteger, Description: "Number of items processed concurrently per window", Default: float64(d.Config.BatchSize)},
		},
		Required: []string{"items"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		raw := argArray(args, "items")
		if len(raw) == 0 {
			return Fail("empty_batch", "Batch must contain at least one item", nil), nil
		}

		items := make([]stream.BatchItem, 0, len(raw))
		for _, r := range raw {
			m, ok := r.(map[string]any)
			if !ok {
				return Fail("invalid_item", "Each batch item must be an object", nil), nil
			}
			items = append(items, stream.BatchItem{
				Operation:   argString(m, "operation"),
				ContextID:   argString(m, "context_id"),
				ContextType: argString(m, "context_type"),
				Content:     argObject(m, "content"),
			})
		}

		batchSize := argInt(args, "batch_size", d.Config.BatchSize)
		if batchSize <= 0 {
			batchSize = d.Config.BatchSize
		}

		d.emit(webhook.Event{
			EventType: webhook.EventBatchStarted, EventID: newEventID(), Timestamp: nowUnix(),
			Source: "batch_operations", Data: map[string]any{"total": len(items)},
		})

		exec := stream.WithItemRetry(func(ctx context.Context, item stream.BatchItem) error {
			return executeBatchItem(ctx, d, item)
		}, d.Config.BatchItemMaxRetries)

		result := stream.RunBatch(ctx, items, batchSize, d.Config.BatchInterWindowDelay, exec)

		d.Cache.InvalidateOperations("retrieve_context", "search_context")

		eventType := webhook.EventBatchCompleted
		if result.Failed > 0 {
			eventType = webhook.EventBatchFailed
		}
		d.emit(webhook.Event{
			EventType: eventType, EventID: newEventID(), Timestamp: nowUnix(),
			Source: "batch_operations", Data: map[string]any{
				"total": result.Total, "successful": result.Successful, "failed": result.Failed,
			},
		})

		text := fmt.Sprintf("Batch completed: %d/%d succeeded", result.Successful, result.Total)
		return Success(text, map[string]any{
			"total": result.Total, "successful": result.Successful, "failed": result.Failed,
			"execution_time_ms": result.ExecutionTimeMs, "errors": result.Errors,
		}), nil
	}

	return &Tool{Descriptor: Descriptor{Name: "batch_operations", Description: "Execute a batch of store/update/delete operations", Schema: schema}, Exec: exec}
}

func executeBatchItem(ctx context.Context, d *Deps, item stream.BatchItem) error {
	switch item.Operation {
	case "store":
		body := map[string]any{"content": item.Content, "type": item.ContextType}
		var out struct {
			ID string `json:"id"`
		}
		return d.Backend.PostJSON(ctx, "/tools/store_context", body, true, &out)
	case "update":
		body := map[string]any{"context_id": item.ContextID, "content": item.Content}
		var out map[string]any
		return d.Backend.PostJSON(ctx, "/tools/update_context", body, true, &out)
	case "delete":
		body := map[string]any{"context_id": item.ContextID}
		var out map[string]any
		return d.Backend.PostJSON(ctx, "/tools/delete_context", body, false, &out)
	default:
		return fmt.Errorf("unknown batch operation %q", item.Operation)
	}
}
