// Package mcpserver implements the protocol engine of spec.md §4.C: the
// (initialized, tools) state machine that dispatches initialize,
// tools/list, and tools/call over the jsonrpc envelope.
package mcpserver

import "github.com/veris-memory/mcp-server/internal/tools"

// ServerVersion is the build-time version reported in serverInfo.
const ServerVersion = "0.1.0"

// ServerName is the fixed serverInfo.name per spec.md §8 scenario 1.
const ServerName = "veris-memory-mcp-server"

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      clientInfo     `json:"clientInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

// toolDescriptorWire is the wire shape of one tools/list entry.
type toolDescriptorWire struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *tools.InputSchema `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolDescriptorWire `json:"tools"`
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// toolsCallResult mirrors tools.Result's wire shape directly; kept
// distinct so the engine owns its own wire contract independent of the
// tools package's internal representation.
type toolsCallResult struct {
	Content []tools.ContentPart `json:"content"`
	IsError bool                `json:"isError"`
}

func descriptorsToWire(descs []tools.Descriptor) []toolDescriptorWire {
	out := make([]toolDescriptorWire, 0, len(descs))
	for _, d := range descs {
		out = append(out, toolDescriptorWire{Name: d.Name, Description: d.Description, InputSchema: d.Schema})
	}
	return out
}
