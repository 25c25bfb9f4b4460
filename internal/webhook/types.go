// Package webhook implements the subscription registry, bounded event
// queue, and concurrent HTTP delivery fabric that fans tool-layer events
// out to registered endpoints with HMAC signing and status-driven retry.
package webhook

import "time"

// EventType is drawn from a closed set spanning context, batch, stream,
// system, and security lifecycle events.
type EventType string

const (
	EventContextStored   EventType = "context.stored"
	EventContextUpdated  EventType = "context.updated"
	EventContextDeleted  EventType = "context.deleted"
	EventContextForgotten EventType = "context.forgotten"
	EventFactUpserted    EventType = "fact.upserted"
	EventBatchStarted    EventType = "batch.started"
	EventBatchCompleted  EventType = "batch.completed"
	EventBatchFailed     EventType = "batch.failed"
	EventStreamStarted   EventType = "stream.started"
	EventStreamCompleted EventType = "stream.completed"
	EventSystemStarted   EventType = "system.started"
	EventSystemStopping  EventType = "system.stopping"
	EventSecurityAlert   EventType = "security.alert"
)

// AllEventTypes is the closed set used to validate subscription filters.
var AllEventTypes = map[EventType]bool{
	EventContextStored: true, EventContextUpdated: true, EventContextDeleted: true,
	EventContextForgotten: true, EventFactUpserted: true,
	EventBatchStarted: true, EventBatchCompleted: true, EventBatchFailed: true,
	EventStreamStarted: true, EventStreamCompleted: true,
	EventSystemStarted: true, EventSystemStopping: true, EventSecurityAlert: true,
}

// Subscription is a webhook registration.
type Subscription struct {
	ID             string            `json:"id"`
	URL            string            `json:"url"`
	EventTypes     map[EventType]bool `json:"-"`
	EventTypeList  []string          `json:"event_types"`
	Active         bool              `json:"active"`
	Headers        map[string]string `json:"headers,omitempty"`
	SigningSecret  string            `json:"-"`
	HasSecret      bool              `json:"has_secret"`
	Description    string            `json:"description,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastDeliveryAt *time.Time        `json:"last_delivery_at,omitempty"`
	DeliveryCount  int64             `json:"delivery_count"`
	FailureCount   int64             `json:"failure_count"`
}

// Matches reports whether the subscription wants this event type. An
// empty EventTypes set means "all types".
func (s *Subscription) Matches(t EventType) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	return s.EventTypes[t]
}

// Event is an in-process record emitted by the tool layer.
type Event struct {
	EventType EventType      `json:"event_type"`
	EventID   string         `json:"event_id"`
	Timestamp int64          `json:"timestamp"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FinalStatus is the terminal outcome of a delivery.
type FinalStatus string

const (
	StatusSuccess   FinalStatus = "success"
	StatusFailed    FinalStatus = "failed"
	StatusAbandoned FinalStatus = "abandoned"
)

// Attempt records one HTTP try within a delivery.
type Attempt struct {
	AttemptNumber          int       `json:"attempt_number"`
	Timestamp              time.Time `json:"timestamp"`
	StatusCode             int       `json:"status_code,omitempty"`
	ResponseTimeMs         int64     `json:"response_time_ms"`
	Error                  string    `json:"error,omitempty"`
	ResponseBodyTruncated  string    `json:"response_body_truncated,omitempty"`
}

// DeliveryResult is the outcome of delivering one event to one
// subscription.
type DeliveryResult struct {
	WebhookID        string      `json:"webhook_id"`
	EventID          string      `json:"event_id"`
	URL              string      `json:"url"`
	FinalStatus      FinalStatus `json:"final_status"`
	Attempts         []Attempt   `json:"attempts"`
	TotalDurationMs  int64       `json:"total_duration_ms"`
	CreatedAt        time.Time   `json:"created_at"`
	CompletedAt      time.Time   `json:"completed_at"`
}
