package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Descriptor is the wire-visible tool descriptor of spec.md §3: a unique
// name, a human description, and an input schema.
type Descriptor struct {
	Name        string
	Description string
	Schema      *InputSchema
}

// Executor runs one tool invocation. A non-nil error signals an
// unexpected internal failure and is surfaced by the protocol engine as
// JSON-RPC -32603 (spec.md §7); anything the tool itself can anticipate
// (validation, domain, backend errors) is returned as a *Result with
// IsError=true instead.
type Executor func(ctx context.Context, args map[string]any) (*Result, error)

// Tool pairs a descriptor with its executor.
type Tool struct {
	Descriptor
	Exec Executor
}

// Registry holds the tool set exposed by one server instance. Tool names
// are unique within a registry, matching spec.md §3.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds t to the registry; it is an error to register the same
// name twice.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tools: cannot register a tool with no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tools: %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister registers t, panicking on error; intended for the fixed
// set of built-in tools assembled at server startup.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns every registered tool's descriptor, in
// registration order (stable across tools/list calls within one
// process, per spec.md §4.C).
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor)
	}
	return out
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
