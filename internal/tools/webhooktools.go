package tools

import (
	"context"
	"fmt"

	"github.com/veris-memory/mcp-server/internal/webhook"
)

// webhookEventTypeNames is the closed set from internal/webhook, rendered
// as a sorted-ish slice for the schema's enum list.
var webhookEventTypeNames = []string{
	"context.stored", "context.updated", "context.deleted", "context.forgotten",
	"fact.upserted", "batch.started", "batch.completed", "batch.failed",
	"stream.started", "stream.completed", "system.started", "system.stopping", "security.alert",
}

// NewWebhookManagement builds the webhook_management tool: a single
// action-dispatched entry point over the subscription registry (register
// / update / unregister / list), per spec.md §4.I.
func NewWebhookManagement(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"action":         {Type: TypeString, Description: "Operation to perform", Enum: []string{"register", "update", "unregister", "list"}},
			"webhook_id":     {Type: TypeString, Description: "Subscription ID (update/unregister)"},
			"url":            {Type: TypeString, Description: "Delivery URL (register/update)"},
			"event_types":    {Type: TypeArray, Description: "Event types to subscribe to; empty means all", Items: &PropertySchema{Type: TypeString, Enum: webhookEventTypeNames}},
			"headers":        {Type: TypeObject, Description: "Extra headers sent with each delivery"},
			"signing_secret": {Type: TypeString, Description: "HMAC-SHA256 secret used to sign deliveries"},
			"description":    {Type: TypeString, Description: "Human-readable description"},
			"active":         {Type: TypeBoolean, Description: "Whether the subscription is active (update)"},
		},
		Required: []string{"action"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		action := argString(args, "action")
		switch action {
		case "register":
			return webhookRegister(d, args), nil
		case "update":
			return webhookUpdate(d, args), nil
		case "unregister":
			return webhookUnregister(d, args), nil
		case "list":
			return webhookList(d), nil
		default:
			return Fail("invalid_action", fmt.Sprintf("Unknown action %q", action), nil), nil
		}
	}

	return &Tool{Descriptor: Descriptor{Name: "webhook_management", Description: "Register, update, unregister, or list webhook subscriptions", Schema: schema}, Exec: exec}
}

func stringSliceArg(args map[string]any, key string) []string {
	raw := argArray(args, key)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringMapArg(args map[string]any, key string) map[string]string {
	obj := argObject(args, key)
	if obj == nil {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func subscriptionView(s *webhook.Subscription) map[string]any {
	return map[string]any{
		"webhook_id": s.ID, "url": s.URL, "event_types": s.EventTypeList, "active": s.Active,
		"has_secret": s.HasSecret, "description": s.Description, "created_at": s.CreatedAt,
		"last_delivery_at": s.LastDeliveryAt, "delivery_count": s.DeliveryCount, "failure_count": s.FailureCount,
	}
}

func webhookRegister(d *Deps, args map[string]any) *Result {
	url := argString(args, "url")
	if isBlank(url) {
		return Fail("invalid_url", "Webhook URL cannot be empty", nil)
	}
	sub, err := d.Webhooks.Register(webhook.RegisterParams{
		URL: url, EventTypes: stringSliceArg(args, "event_types"),
		Headers: stringMapArg(args, "headers"), SigningSecret: argString(args, "signing_secret"),
		Description: argString(args, "description"),
	})
	if err != nil {
		return Fail("registration_failed", err.Error(), nil)
	}
	return Success(fmt.Sprintf("Registered webhook %s for %s", sub.ID, sub.URL), subscriptionView(sub))
}

func webhookUpdate(d *Deps, args map[string]any) *Result {
	id := argString(args, "webhook_id")
	if isBlank(id) {
		return Fail("invalid_webhook_id", "webhook_id is required", nil)
	}
	params := webhook.UpdateParams{}
	if v, ok := args["url"]; ok {
		s, _ := v.(string)
		params.URL = &s
	}
	if _, ok := args["event_types"]; ok {
		params.EventTypes = stringSliceArg(args, "event_types")
	}
	if v, ok := args["active"]; ok {
		b, _ := v.(bool)
		params.Active = &b
	}
	if _, ok := args["headers"]; ok {
		params.Headers = stringMapArg(args, "headers")
	}
	if v, ok := args["description"]; ok {
		s, _ := v.(string)
		params.Description = &s
	}

	sub, err := d.Webhooks.Update(id, params)
	if err != nil {
		return Fail("update_failed", err.Error(), map[string]any{"webhook_id": id})
	}
	return Success(fmt.Sprintf("Updated webhook %s", id), subscriptionView(sub))
}

func webhookUnregister(d *Deps, args map[string]any) *Result {
	id := argString(args, "webhook_id")
	if isBlank(id) {
		return Fail("invalid_webhook_id", "webhook_id is required", nil)
	}
	if err := d.Webhooks.Unregister(id); err != nil {
		return Fail("unregister_failed", err.Error(), map[string]any{"webhook_id": id})
	}
	return Success(fmt.Sprintf("Unregistered webhook %s", id), map[string]any{"webhook_id": id})
}

func webhookList(d *Deps) *Result {
	subs := d.Webhooks.List()
	views := make([]map[string]any, 0, len(subs))
	for _, s := range subs {
		views = append(views, subscriptionView(s))
	}
	return Success(fmt.Sprintf("%d webhook subscription(s) registered", len(views)), map[string]any{"webhooks": views, "count": len(views)})
}

// NewEventNotification builds the event_notification tool: lets a client
// emit a custom event through the dispatcher, or query the rolling
// delivery history and dispatcher-level counters, per spec.md §4.I.
func NewEventNotification(d *Deps) *Tool {
	schema := &InputSchema{
		Type: TypeObject,
		Properties: map[string]PropertySchema{
			"action":     {Type: TypeString, Description: "Operation to perform", Enum: []string{"emit", "history", "stats"}},
			"event_type": {Type: TypeString, Description: "Event type to emit (emit)", Enum: webhookEventTypeNames},
			"data":       {Type: TypeObject, Description: "Event payload data (emit)"},
			"limit":      {Type: TypeInteger, Description: "Maximum history entries to return (history)", Default: float64(50)},
		},
		Required: []string{"action"},
	}

	exec := func(ctx context.Context, args map[string]any) (*Result, error) {
		action := argString(args, "action")
		switch action {
		case "emit":
			eventType := argString(args, "event_type")
			if isBlank(eventType) {
				return Fail("invalid_event_type", "event_type is required", nil), nil
			}
			event := webhook.Event{
				EventType: webhook.EventType(eventType), EventID: newEventID(), Timestamp: nowUnix(),
				Source: "event_notification", Data: argObject(args, "data"),
			}
			accepted := true
			if d.Dispatcher != nil {
				accepted = d.Dispatcher.Emit(event)
			}
			if !accepted {
				return Fail("queue_full", "Event queue is full; event was dropped", map[string]any{"event_id": event.EventID}), nil
			}
			return Success(fmt.Sprintf("Emitted event %s", event.EventID), map[string]any{"event_id": event.EventID, "event_type": eventType}), nil

		case "history":
			if d.Dispatcher == nil {
				return Success("No delivery history available", map[string]any{"history": []any{}}), nil
			}
			limit := argInt(args, "limit", 50)
			history := d.Dispatcher.History(limit)
			return Success(fmt.Sprintf("Retrieved %d delivery record(s)", len(history)), map[string]any{"history": history, "count": len(history)}), nil

		case "stats":
			if d.Dispatcher == nil {
				return Success("Webhook dispatcher is disabled", map[string]any{"events_delivered": 0, "events_failed": 0}), nil
			}
			stats := d.Dispatcher.Stats()
			return Success("Retrieved webhook dispatcher statistics", map[string]any{
				"events_delivered": stats.EventsDelivered, "events_failed": stats.EventsFailed,
				"queue_pending": stats.QueueStats.Pending, "queue_dropped": stats.QueueStats.Dropped,
			}), nil

		default:
			return Fail("invalid_action", fmt.Sprintf("Unknown action %q", action), nil), nil
		}
	}

	return &Tool{Descriptor: Descriptor{Name: "event_notification", Description: "Emit events and inspect webhook delivery history/stats", Schema: schema}, Exec: exec}
}
