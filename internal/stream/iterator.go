package stream

import (
	"context"
	"time"
)

// Chunk is one page of a streaming search, per spec.md §4.G.
type Chunk struct {
	Sequence int
	Data     []map[string]any
	IsFinal  bool
	Metadata map[string]any
	Err      error
}

// PageFetcher retrieves one page of results at the given offset/limit.
type PageFetcher func(ctx context.Context, query string, offset, limit int) ([]map[string]any, error)

// IteratorConfig controls pagination behavior.
type IteratorConfig struct {
	ChunkSize      int
	MaxResults     int
	InterPageDelay time.Duration
}

func DefaultIteratorConfig() IteratorConfig {
	return IteratorConfig{ChunkSize: 100, MaxResults: 1000, InterPageDelay: 10 * time.Millisecond}
}

// Iterate fetches pages of cfg.ChunkSize against fetch, starting at
// offset 0, until the backend returns fewer results than requested, the
// offset reaches cfg.MaxResults, the context is cancelled, or fetch
// returns an error. One data Chunk is yielded per page; termination
// always yields a final summary chunk with is_final=true, per spec.md
// §4.G. limiter bounds the number of concurrently running iterators
// across the whole process — Acquire/Release bracket the entire
// iteration, not each page.
func Iterate(ctx context.Context, limiter *ConcurrencyLimiter, fetch PageFetcher, query string, cfg IteratorConfig) <-chan Chunk {
	out := make(chan Chunk)

	go func() {
		defer close(out)

		if err := limiter.Acquire(ctx); err != nil {
			out <- Chunk{IsFinal: true, Err: err, Metadata: map[string]any{"query": query}}
			return
		}
		defer limiter.Release()

		offset := 0
		sequence := 0
		totalResults := 0

		for {
			if ctx.Err() != nil {
				out <- Chunk{Sequence: sequence, IsFinal: true, Err: ctx.Err(), Metadata: map[string]any{
					"total_results": totalResults, "total_chunks": sequence, "query": query,
				}}
				return
			}

			remaining := cfg.MaxResults - offset
			if remaining <= 0 {
				break
			}
			pageSize := cfg.ChunkSize
			if remaining < pageSize {
				pageSize = remaining
			}

			page, err := fetch(ctx, query, offset, pageSize)
			if err != nil {
				sequence++
				out <- Chunk{Sequence: sequence, Err: err, Metadata: map[string]any{"query": query}}
				out <- Chunk{Sequence: sequence + 1, IsFinal: true, Metadata: map[string]any{
					"total_results": totalResults, "total_chunks": sequence, "query": query,
				}}
				return
			}

			sequence++
			totalResults += len(page)
			offset += len(page)

			isLastPage := len(page) < pageSize || offset >= cfg.MaxResults
			out <- Chunk{Sequence: sequence, Data: page, IsFinal: false}

			if isLastPage {
				break
			}

			select {
			case <-ctx.Done():
				continue // loop will exit via ctx.Err() check above
			case <-time.After(cfg.InterPageDelay):
			}
		}

		out <- Chunk{Sequence: sequence + 1, IsFinal: true, Metadata: map[string]any{
			"total_results": totalResults, "total_chunks": sequence, "query": query,
		}}
	}()

	return out
}
