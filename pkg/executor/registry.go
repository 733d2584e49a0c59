package executor

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/aretw0/asyncworker/pkg/domain"
)

// Handler runs one job. Output meant for the operator goes to out.
// A returned error (or a panic) counts as a failed attempt.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job, out io.Writer) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *domain.Job, out io.Writer) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job, out io.Writer) error {
	return f(ctx, job, out)
}

// Registry maps job types to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type, replacing any previous one.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Lookup returns the handler of a job type.
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists the registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
