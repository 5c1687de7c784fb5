package scheduler

import (
	"context"
	"sync"
)

// Kind names a reminder message family
type Kind string

const (
	// KindNudge is the early "not yet paid" reminder
	KindNudge Kind = "nudge"
	// KindRemarket is the later discounted-offer reminder
	KindRemarket Kind = "remarket"
)

// FireFunc sends the user-visible output for a reminder that passed
// its validity check. A failing FireFunc affects only its own reminder.
type FireFunc func(ctx context.Context, userKey, sessionID string, kind Kind)

// Registry stores the mapping of reminder kinds to fire functions
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]FireFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Kind]FireFunc),
	}
}

// Register adds a fire function for a reminder kind
func (r *Registry) Register(kind Kind, fn FireFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Get retrieves the fire function for a reminder kind
func (r *Registry) Get(kind Kind) (FireFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[kind]
	return fn, ok
}
