package stdiotransport

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/veris-memory/mcp-server/internal/jsonrpc"
	"github.com/veris-memory/mcp-server/internal/obslog"
)

type noopHandler struct{}

func (noopHandler) HandleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	resp, _ := jsonrpc.NewResult(req.ID, map[string]any{"ok": true})
	return resp
}

func (noopHandler) HandleNotification(ctx context.Context, note *jsonrpc.Notification) {}

func TestParseErrorWithRecoverableIDAnswersThatID(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","id":"abc","method":` + "\n")
	var out bytes.Buffer
	tr := New(in, &out, obslog.Noop())

	if err := tr.Run(context.Background(), noopHandler{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ID != "abc" {
		t.Fatalf("id = %v, want %q", resp.ID, "abc")
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeParseError {
		t.Fatalf("error = %+v, want code %d", resp.Error, jsonrpc.CodeParseError)
	}
}

func TestParseErrorWithoutRecoverableIDAnswersUnknownIDSentinel(t *testing.T) {
	in := strings.NewReader(`not json at all` + "\n")
	var out bytes.Buffer
	tr := New(in, &out, obslog.Noop())

	if err := tr.Run(context.Background(), noopHandler{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ID != jsonrpc.UnknownID {
		t.Fatalf("id = %v, want sentinel %q", resp.ID, jsonrpc.UnknownID)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeParseError {
		t.Fatalf("error = %+v, want code %d", resp.Error, jsonrpc.CodeParseError)
	}
}
