package transform

import (
	"sort"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-xform/pkg/payload"
)

// MatchCallbackFn matches ops nested in scope, returning one list of ops per result handle. Optional ops
// that are absent are returned as empty lists.
type MatchCallbackFn func(scope *payload.Op) ([][]*payload.Op, error)

type registeredCallback struct {
	numResults int
	fn         MatchCallbackFn
}

// Registry of named match callbacks, made available to scripts by RegisterMatchCallbacks.
type Registry struct {
	callbacks map[string]registeredCallback
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[string]registeredCallback)}
}

// Register adds the callback fn returning numResults lists of ops under name. It panics if name is
// already registered.
func (r *Registry) Register(name string, numResults int, fn MatchCallbackFn) {
	if _, found := r.callbacks[name]; found {
		exceptions.Panicf("match callback %q registered twice", name)
	}
	r.callbacks[name] = registeredCallback{numResults: numResults, fn: fn}
}

// Names returns the names of the registered callbacks, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.callbacks))
	for name := range r.callbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (registeredCallback, bool) {
	if r == nil {
		return registeredCallback{}, false
	}
	cb, found := r.callbacks[name]
	return cb, found
}
