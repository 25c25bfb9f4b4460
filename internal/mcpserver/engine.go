package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/veris-memory/mcp-server/internal/jsonrpc"
	"github.com/veris-memory/mcp-server/internal/mcp"
	"github.com/veris-memory/mcp-server/internal/obslog"
	"github.com/veris-memory/mcp-server/internal/otelcfg"
	"github.com/veris-memory/mcp-server/internal/tools"
)

// State is the session state machine of spec.md §4.C / the protocol
// session diagram: NEW --initialize--> READY --tools/*--> READY;
// NEW --tools/*--> rejected with -32002; CLOSED is terminal and is
// reached when the transport's read loop returns (owned by the caller,
// not the engine itself).
type State int

const (
	StateNew State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "new"
}

// Writer is the subset of stdiotransport.Transport the engine needs to
// emit unsolicited notifications (notifications/progress, .../log).
type Writer interface {
	Write(v any) error
}

// Engine implements stdiotransport.Handler: it owns the
// (initialized, tools) pair spec.md §4.C describes and dispatches
// initialize/tools/list/tools/call.
type Engine struct {
	mu       sync.Mutex
	state    State
	registry *tools.Registry
	writer   Writer
	logger   *obslog.Logger
	tracer   *otelcfg.Tracer
}

// New builds an Engine over registry, using writer to emit out-of-band
// notifications a tool executor raises mid-call (progress, log lines).
func New(registry *tools.Registry, writer Writer, logger *obslog.Logger) *Engine {
	if logger == nil {
		logger = obslog.Noop()
	}
	return &Engine{registry: registry, writer: writer, logger: logger, tracer: otelcfg.NoopTracer()}
}

// WithTracer attaches tracer so tool dispatch is wrapped in a client
// span per spec.md's tracing expansion; returns e for chaining.
func (e *Engine) WithTracer(tracer *otelcfg.Tracer) *Engine {
	if tracer != nil {
		e.tracer = tracer
	}
	return e
}

// Notify satisfies tools.Notifier: it forwards a tool-raised progress or
// log notification straight to the transport. Failures are logged, not
// propagated — a dropped notification never fails the in-flight call.
func (e *Engine) Notify(method string, params any) {
	if e.writer == nil {
		return
	}
	if err := e.writer.Write(jsonrpc.NewNotification(method, params)); err != nil {
		e.logger.Warn("failed writing notification", "method", method, "error", err.Error())
	}
}

// HandleRequest implements stdiotransport.Handler.
func (e *Engine) HandleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case "initialize":
		return e.handleInitialize(req)
	case "tools/list":
		if !e.ready() {
			return jsonrpc.NewError(req.ID, jsonrpc.CodeNotInitialized, "server not initialized", nil)
		}
		return e.handleToolsList(req)
	case "tools/call":
		if !e.ready() {
			return jsonrpc.NewError(req.ID, jsonrpc.CodeNotInitialized, "server not initialized", nil)
		}
		return e.handleToolsCall(ctx, req)
	default:
		return jsonrpc.NewError(req.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("method not found: %q", req.Method), nil)
	}
}

// HandleNotification implements stdiotransport.Handler. The protocol
// defines no inbound notification the server must act on; unknown
// notifications are logged and dropped, per JSON-RPC's no-reply
// contract for notifications.
func (e *Engine) HandleNotification(ctx context.Context, note *jsonrpc.Notification) {
	e.logger.Debug("ignoring inbound notification", "method", note.Method)
}

func (e *Engine) ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateReady
}

func (e *Engine) handleInitialize(req *jsonrpc.Request) *jsonrpc.Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams, "malformed initialize params", map[string]string{"details": err.Error()})
		}
	}

	// Liberal on input: an unrecognized protocolVersion is accepted and
	// merely logged, per spec.md §4.C. We echo back exactly what the
	// client requested rather than substituting our own default, matching
	// the literal handshake scenario in spec.md §8.
	version := params.ProtocolVersion
	if version == "" {
		version = mcp.DefaultProtocolVersion
	} else if !mcp.IsSupported(version) {
		e.logger.Warn("client requested unrecognized protocol version", "version", version, "client", params.ClientInfo.Name)
	}

	e.mu.Lock()
	e.state = StateReady
	e.mu.Unlock()

	result := initializeResult{
		ProtocolVersion: version,
		ServerInfo:      serverInfo{Name: ServerName, Version: ServerVersion},
		Capabilities:    map[string]any{"tools": map[string]any{}, "resources": map[string]any{}, "prompts": map[string]any{}},
	}
	resp, err := jsonrpc.NewResult(req.ID, result)
	if err != nil {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, "failed encoding initialize result", map[string]string{"details": err.Error()})
	}
	return resp
}

func (e *Engine) handleToolsList(req *jsonrpc.Request) *jsonrpc.Response {
	result := toolsListResult{Tools: descriptorsToWire(e.registry.Descriptors())}
	resp, err := jsonrpc.NewResult(req.ID, result)
	if err != nil {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, "failed encoding tools/list result", map[string]string{"details": err.Error()})
	}
	return resp
}

func (e *Engine) handleToolsCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params toolsCallParams
	if len(req.Params) == 0 {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams, "tools/call requires params", nil)
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams, "malformed tools/call params", map[string]string{"details": err.Error()})
	}

	tool, ok := e.registry.Get(params.Name)
	if !ok {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("unknown tool: %q", params.Name), nil)
	}

	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if v := tools.Validate(args, tool.Schema); !v.Valid {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInvalidParams, "argument validation failed", map[string]string{"details": v.Error()})
	}

	result, err := e.runTool(ctx, tool, args)
	if err != nil {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, "tool execution failed", map[string]string{"details": err.Error()})
	}

	resp, err := jsonrpc.NewResult(req.ID, toolsCallResult{Content: result.Content, IsError: result.IsError})
	if err != nil {
		return jsonrpc.NewError(req.ID, jsonrpc.CodeInternalError, "failed encoding tools/call result", map[string]string{"details": err.Error()})
	}
	return resp
}

// runTool isolates a tool executor's panic into an error so one
// misbehaving tool cannot take the whole read loop down with it — a
// panic surfaces as -32603 per spec.md §7's "internal error ... if it
// escapes the tool layer" rule. The call is wrapped in a client span so
// tool dispatch shows up alongside the backend calls it makes.
func (e *Engine) runTool(ctx context.Context, tool *tools.Tool, args map[string]any) (result *tools.Result, err error) {
	ctx, span := e.tracer.StartOperationSpan(ctx, otelcfg.OperationSpanOptions{Operation: "tools/call", ToolName: tool.Name})
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mcpserver: tool %q panicked: %v", tool.Name, r)
		}
		// A tool-level failure (result.IsError) is not a span error per
		// spec.md §7 — only an escaping error is an internal error.
		if err != nil {
			otelcfg.RecordError(span, err, "internal_error", false)
		}
	}()
	return tool.Exec(ctx, args)
}
