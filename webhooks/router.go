package webhooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-billing-sync/core"
)

// Handler turns one billing event into the state change it implies. Handlers
// must not write engine state; the returned outcome is applied by the engine
// once the handler wins its deadline race.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event core.WebhookEvent) (core.HandlerOutcome, error)
}

type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: map[string]Handler{}}
}

func (r *Router) Register(handler Handler, eventTypes ...string) error {
	if r == nil {
		return core.InternalError("webhooks: router is nil", nil)
	}
	if handler == nil {
		return core.BadInputError("webhooks: handler is nil", nil)
	}
	if len(eventTypes) == 0 {
		return core.BadInputError("webhooks: at least one event type is required", map[string]any{
			"handler": handler.Name(),
		})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, eventType := range eventTypes {
		eventType = strings.TrimSpace(eventType)
		if existing, ok := r.handlers[eventType]; ok {
			return core.ConflictError(
				fmt.Sprintf("webhooks: handler already registered for %q", eventType),
				map[string]any{"event_type": eventType, "handler": existing.Name()},
			)
		}
	}
	for _, eventType := range eventTypes {
		r.handlers[strings.TrimSpace(eventType)] = handler
	}
	return nil
}

// Lookup returns the handler registered for eventType, if any.
func (r *Router) Lookup(eventType string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[eventType]
	return handler, ok
}

func (r *Router) EventTypes() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return types
}
