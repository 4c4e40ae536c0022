package achievement

import (
	"context"
	"sort"
	"sync"
)

// Handler computes the current value of a condition for a user.
type Handler interface {
	Current(ctx context.Context, userID string, c Condition) (int, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, userID string, c Condition) (int, error)

func (f HandlerFunc) Current(ctx context.Context, userID string, c Condition) (int, error) {
	return f(ctx, userID, c)
}

// HandlerRegistry maps condition types to handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[ConditionType]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[ConditionType]Handler)}
}

// Register binds a handler to a condition type, replacing any previous one.
func (r *HandlerRegistry) Register(t ConditionType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Lookup returns the handler for t.
func (r *HandlerRegistry) Lookup(t ConditionType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered condition types, sorted.
func (r *HandlerRegistry) Types() []ConditionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]ConditionType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
