package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps worker names to work functions. Records name their worker,
// so functions must be registered before the scheduler starts dispatching.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]WorkFunc
}

func NewRegistry() *Registry { return &Registry{funcs: map[string]WorkFunc{}} }

func (r *Registry) Register(name string, fn WorkFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("worker name is required")
	}
	if fn == nil {
		return fmt.Errorf("worker %q: %w", name, ErrNilWorkFunc)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.funcs[name]; dup {
		return fmt.Errorf("worker %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

func (r *Registry) Lookup(name string) (WorkFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered worker names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
