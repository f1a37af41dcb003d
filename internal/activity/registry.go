// Package activity implements the named units of work the workflow
// invokes: policy lookup, risk assessment, and the three outbound
// publishes. Delivery is at-least-once, so every handler with an external
// side effect must be idempotent with respect to its dedup key.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Activity names. These appear in history events, so they are part of the
// persisted format and must stay stable across releases.
const (
	GetPolicy         = "get-policy"
	AssessTransaction = "assess-transaction"
	PublishProcessing = "publish-processing"
	RaiseAlert        = "raise-alert"
	NotifyOperations  = "notify-operations"
)

// Handler executes one activity call. Input and output are JSON because
// that is the shape the history log persists.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Registry maps activity names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty activity registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under name, replacing any existing one.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("activity: no handler registered for %q", name)
	}
	return h, nil
}

// Names returns the registered activity names, sorted. For diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
