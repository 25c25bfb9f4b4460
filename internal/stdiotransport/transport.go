// Package stdiotransport reads newline-delimited JSON-RPC messages from a
// byte stream and writes framed responses/notifications back, serializing
// writes so two messages are never interleaved on output.
package stdiotransport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/veris-memory/mcp-server/internal/jsonrpc"
	"github.com/veris-memory/mcp-server/internal/obslog"
)

// Handler processes one decoded message. It is invoked on its own
// goroutine per request so a slow tool call never blocks the reader from
// picking up the next line (spec: "no ordering guarantee across request
// IDs").
type Handler interface {
	HandleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response
	HandleNotification(ctx context.Context, note *jsonrpc.Notification)
}

// Transport owns the read loop and a write mutex over a byte stream.
type Transport struct {
	r       *bufio.Reader
	w       *bufio.Writer
	writeMu sync.Mutex
	logger  *obslog.Logger

	wg sync.WaitGroup
}

func New(r io.Reader, w io.Writer, logger *obslog.Logger) *Transport {
	return &Transport{
		r:      bufio.NewReaderSize(r, 1<<20),
		w:      bufio.NewWriter(w),
		logger: logger,
	}
}

// Write serializes v (a *jsonrpc.Response or *jsonrpc.Notification) and
// writes it as a single line, flushing immediately so the host observes
// completion promptly. Safe for concurrent use; writes are serialized so
// two messages never interleave.
func (t *Transport) Write(v any) error {
	line, err := jsonrpc.Encode(v)
	if err != nil {
		return fmt.Errorf("stdiotransport: encode: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(line); err != nil {
		return fmt.Errorf("stdiotransport: write: %w", err)
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("stdiotransport: write newline: %w", err)
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("stdiotransport: flush: %w", err)
	}
	return nil
}

// Run drives the blocking read loop until EOF or ctx cancellation. Each
// decoded line is dispatched to handler on its own goroutine; Run waits
// for all in-flight dispatches to finish before returning, per spec.md
// §4.K's "in-flight tool calls are allowed to complete" shutdown rule.
func (t *Transport) Run(ctx context.Context, handler Handler) error {
	defer t.wg.Wait()

	for {
		line, err := t.r.ReadBytes('\n')
		if len(line) > 0 {
			t.dispatch(ctx, handler, trimNewline(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("stdiotransport: read: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func trimNewline(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return line[:n]
}

func (t *Transport) dispatch(ctx context.Context, handler Handler, line []byte) {
	if len(bytesTrimSpace(line)) == 0 {
		return
	}

	msg, err := jsonrpc.Decode(line)
	if err != nil {
		// Parse error: log and still answer, per spec.md §7 — a parse
		// error is always answered, keyed by the recovered id if the
		// payload carries one or by the jsonrpc.UnknownID sentinel
		// otherwise.
		t.logger.Warn("parse error on stdin line", "error", err.Error())
		id, ok := extractRecoverableID(line)
		if !ok {
			id = jsonrpc.UnknownID
		}
		_ = t.Write(jsonrpc.NewError(id, jsonrpc.CodeParseError, "parse error", map[string]string{"details": err.Error()}))
		return
	}

	switch msg.Kind {
	case jsonrpc.KindRequest:
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			resp := handler.HandleRequest(ctx, msg.Request)
			if resp != nil {
				if err := t.Write(resp); err != nil {
					t.logger.Error("failed writing response", "error", err.Error())
				}
			}
		}()
	case jsonrpc.KindNotification:
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			handler.HandleNotification(ctx, msg.Notification)
		}()
	case jsonrpc.KindResponse:
		// The server never receives Responses on this wire; ignore.
	}
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// extractRecoverableID makes a best-effort attempt to pull a top-level
// `id` field out of input that otherwise failed full decoding. It walks
// the object's members in order, so an id that precedes the malformed or
// truncated part (e.g. a broken params object, or a line cut off after
// the id) is still found.
func extractRecoverableID(line []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(line))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, false
	}
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return nil, false
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return nil, false
		}
		if key == "id" && val != nil {
			return val, true
		}
	}
	return nil, false
}
