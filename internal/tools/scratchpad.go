package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/veris-memory/mcp-server/internal/webhook"
)

// NewUpdateScratchpad builds the update_scratchpad tool: transient
// per-agent working memory with a merge or overwrite mode, bounded by
// MaxScratchpadBytes, per spec.md §4.E.
func NewUpdateScratchpad(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"agent_id": {Type: TypeString, Description: "Agent ID owning the scratchpad"},
			"content":  {Type: TypeString, Description: "Content to write to the scratchpad"},
			"mode":     {Type: TypeString, Description: "Write mode", Enum: []string{"overwrite", "append"}, Default: "overwrite"},
			"merge":    {Type: TypeBoolean, Description: "Whether to merge with existing content", Default: false},
		},
		Required: []string{"agent_id", "content"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		agentID := strings.TrimSpace(argString(args, "agent_id"))
		if agentID == "" {
			return Fail("invalid_agent_id", "Agent ID cannot be empty", nil), nil
		}
		content := argString(args, "content")
		if len(content) > d.Config.MaxScratchpadBytes {
			return Fail("content_too_large", fmt.Sprintf("Scratchpad content exceeds maximum size of %d bytes", d.Config.MaxScratchpadBytes),
				map[string]any{"max_bytes": d.Config.MaxScratchpadBytes, "actual_bytes": len(content)}), nil
		}
		mode := argString(args, "mode")
		if mode == "" {
			mode = "overwrite"
		}
		merge := argBool(args, "merge", false)

		body := map[string]any{"agent_id": agentID, "content": content, "mode": mode, "merge": merge}
		var out struct {
			Success    bool   `json:"success"`
			UpdatedAt  string `json:"updated_at"`
			TotalBytes int    `json:"total_bytes"`
		}
		if err := d.Backend.PostJSON(ctx, "/tools/update_scratchpad", body, true, &out); err != nil {
			return backendFailure(err), nil
		}

		d.emit(webhook.Event{
			EventType: webhook.EventContextUpdated, EventID: newEventID(), Timestamp: nowUnix(),
			Source: "update_scratchpad", Data: map[string]any{"agent_id": agentID, "mode": mode, "merge": merge},
		})

		action := "Updated"
		if merge {
			action = "Merged into"
		}
		text := fmt.Sprintf("%s scratchpad for agent %s", action, agentID)
		return Success(text, map[string]any{
			"agent_id": agentID, "updated_at": out.UpdatedAt, "total_bytes": out.TotalBytes, "mode": mode, "merge": merge,
		}), nil
	}

	return &Tool{Descriptor: Descriptor{Name: "update_scratchpad", Description: "Write transient working memory for an agent", Schema: schema}, Exec: exec}
}

// NewGetAgentState builds the get_agent_state tool: retrieves an agent's
// persisted state, optionally including its scratchpad contents.
func NewGetAgentState(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"agent_id":           {Type: TypeString, Description: "Agent ID to retrieve state for"},
			"include_scratchpad": {Type: TypeBoolean, Description: "Whether to include scratchpad content", Default: true},
		},
		Required: []string{"agent_id"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		agentID := strings.TrimSpace(argString(args, "agent_id"))
		if agentID == "" {
			return Fail("invalid_agent_id", "Agent ID cannot be empty", nil), nil
		}
		includeScratchpad := argBool(args, "include_scratchpad", true)

		body := map[string]any{"agent_id": agentID, "include_scratchpad": includeScratchpad}
		var out struct {
			State      map[string]any `json:"state"`
			Scratchpad string         `json:"scratchpad"`
			UpdatedAt  string         `json:"updated_at"`
		}
		if err := d.Backend.PostJSON(ctx, "/tools/get_agent_state", body, true, &out); err != nil {
			return backendFailure(err), nil
		}

		hasScratchpad := includeScratchpad && out.Scratchpad != ""
		data := map[string]any{
			"agent_id": agentID, "state": out.State, "updated_at": out.UpdatedAt, "has_scratchpad": hasScratchpad,
		}
		if includeScratchpad {
			data["scratchpad"] = out.Scratchpad
		}

		text := fmt.Sprintf("Retrieved state for agent %s", agentID)
		if hasScratchpad {
			text += " (including scratchpad)"
		}
		return Success(text, data), nil
	}

	return &Tool{Descriptor: Descriptor{Name: "get_agent_state", Description: "Retrieve persisted state for an agent", Schema: schema}, Exec: exec}
}
