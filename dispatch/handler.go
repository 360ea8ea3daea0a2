package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler executes one invocation. A fresh instance is constructed per
// dispatch, payload bound onto its exported fields, then Invoke runs.
//
// Context cancellation: handlers must check ctx.Done() at their own
// suspension points and return promptly when cancelled. The runner does
// not commit a cancelled handler; the row's lease simply expires.
type Handler interface {
	Invoke(jctx *Context) Result
}

// ContinuationHandler is a Handler that can resume after a Suspended
// result. Continuation rows route here; handlers without this
// capability receive the continuation through plain Invoke.
type ContinuationHandler interface {
	Handler
	InvokeContinuation(jctx *Context) Result
}

// Description declares a registrable job: its public name and a
// factory producing a zero-valued handler for the binder to fill.
type Description struct {
	Name string
	New  func() Handler
}

// Registry maps job names to handler descriptions. Lookup is
// case-insensitive. Thread-safe.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]Description // lowercased name -> description
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Description)}
}

// Register adds a job description.
// Panics on an empty name, nil factory, or duplicate name — these are
// wiring bugs, not runtime conditions.
func (r *Registry) Register(desc Description) {
	if desc.Name == "" {
		panic("job description missing name")
	}
	if desc.New == nil {
		panic(fmt.Sprintf("job description missing factory for name: %s", desc.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(desc.Name)
	if _, exists := r.jobs[key]; exists {
		panic(fmt.Sprintf("job already registered for name: %s", desc.Name))
	}
	r.jobs[key] = desc
}

// Lookup retrieves a description by name, ignoring case.
func (r *Registry) Lookup(name string) (Description, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.jobs[strings.ToLower(name)]
	return desc, ok
}

// Has checks whether a job name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns all registered job names, sorted, in their declared
// casing.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.jobs))
	for _, desc := range r.jobs {
		names = append(names, desc.Name)
	}
	sort.Strings(names)
	return names
}
