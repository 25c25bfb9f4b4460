package webhook

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxSubscriptions bounds the registry size.
const DefaultMaxSubscriptions = 1000

// Registry is a mutex-guarded map of webhook_id -> Subscription.
type Registry struct {
	mu               sync.RWMutex
	subscriptions    map[string]*Subscription
	maxSubscriptions int
	ssrf             *ssrfGuard
}

func NewRegistry(maxSubscriptions int) *Registry {
	if maxSubscriptions <= 0 {
		maxSubscriptions = DefaultMaxSubscriptions
	}
	return &Registry{
		subscriptions:    make(map[string]*Subscription),
		maxSubscriptions: maxSubscriptions,
		ssrf:             newSSRFGuard(nil),
	}
}

// WithAllowedPrivateNetworks opts the named CIDRs out of the SSRF
// guard's loopback/private-address blocking, for local development or
// trusted internal deployments. Returns r for chaining.
func (r *Registry) WithAllowedPrivateNetworks(cidrs []string) *Registry {
	r.ssrf = newSSRFGuard(cidrs)
	return r
}

// RegisterParams describes a new subscription request.
type RegisterParams struct {
	URL           string
	EventTypes    []string
	Headers       map[string]string
	SigningSecret string
	Description   string
}

func validateURL(u string) error {
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("webhook url must start with http:// or https://")
	}
	return nil
}

// Register validates and stores a new subscription.
func (r *Registry) Register(p RegisterParams) (*Subscription, error) {
	if err := validateURL(p.URL); err != nil {
		return nil, err
	}
	if err := r.ssrf.check(p.URL); err != nil {
		return nil, fmt.Errorf("webhook url rejected: %w", err)
	}

	eventTypes := make(map[EventType]bool, len(p.EventTypes))
	for _, t := range p.EventTypes {
		et := EventType(t)
		if !AllEventTypes[et] {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		eventTypes[et] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subscriptions) >= r.maxSubscriptions {
		return nil, fmt.Errorf("webhook: max_subscriptions (%d) reached", r.maxSubscriptions)
	}

	sub := &Subscription{
		ID:            uuid.NewString(),
		URL:           p.URL,
		EventTypes:    eventTypes,
		EventTypeList: p.EventTypes,
		Active:        true,
		Headers:       p.Headers,
		SigningSecret: p.SigningSecret,
		HasSecret:     p.SigningSecret != "",
		Description:   p.Description,
		CreatedAt:     time.Now(),
	}
	r.subscriptions[sub.ID] = sub
	return sub, nil
}

// UpdateParams holds optional partial-update fields; nil means "leave
// unchanged".
type UpdateParams struct {
	URL        *string
	EventTypes []string
	Active     *bool
	Headers    map[string]string
	Description *string
}

func (r *Registry) Update(id string, p UpdateParams) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("webhook: subscription %q not found", id)
	}
	if p.URL != nil {
		if err := validateURL(*p.URL); err != nil {
			return nil, err
		}
		if err := r.ssrf.check(*p.URL); err != nil {
			return nil, fmt.Errorf("webhook url rejected: %w", err)
		}
		sub.URL = *p.URL
	}
	if p.EventTypes != nil {
		eventTypes := make(map[EventType]bool, len(p.EventTypes))
		for _, t := range p.EventTypes {
			et := EventType(t)
			if !AllEventTypes[et] {
				return nil, fmt.Errorf("unknown event type %q", t)
			}
			eventTypes[et] = true
		}
		sub.EventTypes = eventTypes
		sub.EventTypeList = p.EventTypes
	}
	if p.Active != nil {
		sub.Active = *p.Active
	}
	if p.Headers != nil {
		sub.Headers = p.Headers
	}
	if p.Description != nil {
		sub.Description = *p.Description
	}
	return sub, nil
}

func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscriptions[id]; !ok {
		return fmt.Errorf("webhook: subscription %q not found", id)
	}
	delete(r.subscriptions, id)
	return nil
}

func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subscriptions[id]
	return s, ok
}

// List returns a snapshot of all subscriptions.
func (r *Registry) List() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subscriptions))
	for _, s := range r.subscriptions {
		out = append(out, s)
	}
	return out
}

// MatchingActive returns active subscriptions matching the given event
// type, used by the dispatcher to select delivery targets.
func (r *Registry) MatchingActive(t EventType) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Subscription
	for _, s := range r.subscriptions {
		if s.Active && s.Matches(t) {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) recordDelivery(id string, success bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subscriptions[id]
	if !ok {
		return
	}
	s.DeliveryCount++
	if !success {
		s.FailureCount++
	}
	s.LastDeliveryAt = &at
}
