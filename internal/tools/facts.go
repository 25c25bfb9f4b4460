package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/veris-memory/mcp-server/internal/webhook"
)

// NewUpsertFact builds the upsert_fact tool: atomic forget-old-then-
// store-new for a (fact_key, fact_value) pair scoped to a user, per
// spec.md §4.E. The atomic swap itself happens upstream; this tool just
// validates and forwards the request.
func NewUpsertFact(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"fact_key":             {Type: TypeString, Description: "Key identifying the fact"},
			"fact_value":           {Type: TypeString, Description: "Value of the fact"},
			"user_id":              {Type: TypeString, Description: "User ID to associate the fact with"},
			"metadata":             {Type: TypeObject, Description: "Optional metadata for the fact"},
			"create_relationships": {Type: TypeBoolean, Description: "Whether to create relationships with existing entities", Default: false},
		},
		Required: []string{"fact_key", "fact_value"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		key := strings.TrimSpace(argString(args, "fact_key"))
		if key == "" {
			return Fail("invalid_fact_key", "Fact key cannot be empty", nil), nil
		}
		value := strings.TrimSpace(argString(args, "fact_value"))
		if value == "" {
			return Fail("invalid_fact_value", "Fact value cannot be empty", nil), nil
		}

		userID := argString(args, "user_id")
		if userID == "" {
			userID = d.Config.UserID
		}
		metadata := argObject(args, "metadata")
		if metadata == nil {
			metadata = map[string]any{}
		}
		createRelationships := argBool(args, "create_relationships", false)

		body := map[string]any{
			"fact_key": key, "fact_value": value, "user_id": userID,
			"metadata": metadata, "create_relationships": createRelationships,
		}

		var out struct {
			FactID   string `json:"fact_id"`
			GraphID  string `json:"graph_id"`
			IsUpdate bool   `json:"is_update"`
		}
		if err := d.Backend.PostJSON(ctx, "/tools/upsert_fact", body, true, &out); err != nil {
			return backendFailure(err), nil
		}

		d.emit(webhook.Event{
			EventType: webhook.EventFactUpserted, EventID: newEventID(), Timestamp: nowUnix(),
			Source: "upsert_fact", Data: map[string]any{"fact_key": key, "user_id": userID, "is_update": out.IsUpdate},
		})

		action := "Created"
		if out.IsUpdate {
			action = "Updated"
		}
		text := fmt.Sprintf("%s fact '%s'", action, key)
		if out.FactID != "" {
			text += fmt.Sprintf(" with ID: %s", out.FactID)
		}

		return Success(text, map[string]any{
			"fact_id": out.FactID, "graph_id": out.GraphID, "fact_key": key,
			"fact_value": value, "is_update": out.IsUpdate, "user_id": userID,
		}), nil
	}

	return &Tool{Descriptor: Descriptor{Name: "upsert_fact", Description: "Create or update a user fact", Schema: schema}, Exec: exec}
}

// NewGetUserFacts builds the get_user_facts tool: bulk user-scoped fact
// listing with the limit clamped to [1, MaxUserFactsLimit].
func NewGetUserFacts(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"user_id":           {Type: TypeString, Description: "User ID to retrieve facts for"},
			"limit":             {Type: TypeInteger, Description: "Maximum number of facts to return", Default: float64(100)},
			"include_forgotten": {Type: TypeBoolean, Description: "Whether to include forgotten/archived facts", Default: false},
		},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		userID := argString(args, "user_id")
		if userID == "" {
			userID = d.Config.UserID
		}
		limit := clamp(argInt(args, "limit", 100), 1, d.Config.MaxUserFactsLimit)
		includeForgotten := argBool(args, "include_forgotten", false)

		body := map[string]any{"user_id": userID, "limit": limit, "include_forgotten": includeForgotten}
		var out struct {
			Facts      []map[string]any `json:"facts"`
			TotalCount int              `json:"total_count"`
		}
		if err := d.Backend.PostJSON(ctx, "/tools/get_user_facts", body, true, &out); err != nil {
			return backendFailure(err), nil
		}

		total := out.TotalCount
		if total < len(out.Facts) {
			total = len(out.Facts)
		}

		text := "No facts found for user"
		if len(out.Facts) > 0 {
			text = fmt.Sprintf("Retrieved %d fact(s)", len(out.Facts))
			if total > len(out.Facts) {
				text += fmt.Sprintf(" (total: %d)", total)
			}
		}

		return Success(text, map[string]any{
			"facts": out.Facts, "count": len(out.Facts), "total_count": total,
			"user_id": userID, "include_forgotten": includeForgotten,
		}), nil
	}

	return &Tool{Descriptor: Descriptor{Name: "get_user_facts", Description: "Retrieve all facts stored for a user", Schema: schema}, Exec: exec}
}

// NewForgetContext builds the forget_context tool: soft-delete with a
// retention window, per spec.md §4.E.
func NewForgetContext(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"context_id":     {Type: TypeString, Description: "ID of the context to forget"},
			"retention_days": {Type: TypeInteger, Description: "Number of days to retain before permanent deletion", Default: float64(30)},
			"reason":         {Type: TypeString, Description: "Reason for forgetting the context"},
		},
		Required: []string{"context_id"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		id := strings.TrimSpace(argString(args, "context_id"))
		if id == "" {
			return Fail("invalid_context_id", "Context ID cannot be empty", nil), nil
		}
		retentionDays := argInt(args, "retention_days", 30)
		reason := argString(args, "reason")

		body := map[string]any{"context_id": id, "retention_days": retentionDays}
		if reason != "" {
			body["reason"] = reason
		}

		var out struct {
			Success     bool   `json:"success"`
			ForgottenAt string `json:"forgotten_at"`
			Error       string `json:"error"`
		}
		if err := d.Backend.PostJSON(ctx, "/tools/forget_context", body, true, &out); err != nil {
			return backendFailure(err), nil
		}
		if !out.Success {
			msg := out.Error
			if msg == "" {
				msg = "unknown error"
			}
			return Fail("forget_failed", fmt.Sprintf("Failed to forget context: %s", msg), map[string]any{"context_id": id}), nil
		}

		d.Cache.InvalidateOperations("retrieve_context", "search_context")
		d.emit(webhook.Event{
			EventType: webhook.EventContextForgotten, EventID: newEventID(), Timestamp: nowUnix(),
			Source: "forget_context", Data: map[string]any{"context_id": id, "retention_days": retentionDays},
		})

		text := fmt.Sprintf("Successfully forgot context %s", id)
		if reason != "" {
			text += fmt.Sprintf(" (reason: %s)", reason)
		}
		return Success(text, map[string]any{
			"context_id": id, "forgotten_at": out.ForgottenAt, "reason": reason, "retention_days": retentionDays,
		}), nil
	}

	return &Tool{Descriptor: Descriptor{Name: "forget_context", Description: "Soft-delete context with a retention window", Schema: schema}, Exec: exec}
}
