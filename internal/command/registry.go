package command

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/weblate/distributor/internal/domain"
)

type registryState struct {
	index map[string]*Definition
	defs  []*Definition
}

// Registry holds every registered command.
// Registration is append-only; readers load an immutable state without
// locking and Register publishes a new one.
type Registry struct {
	mu        sync.Mutex
	namespace string
	state     atomic.Pointer[registryState]
}

// NewRegistry creates an empty registry. A non-empty namespace also
// registers "namespace:label" for every name and alias.
func NewRegistry(namespace string) *Registry {
	r := &Registry{namespace: strings.ToLower(strings.TrimSpace(namespace))}
	r.state.Store(&registryState{index: map[string]*Definition{}})
	return r
}

// Namespace returns the label prefix, or "".
func (r *Registry) Namespace() string {
	return r.namespace
}

// Register validates def and adds it. A colliding name or alias fails with
// domain.ErrDuplicateName and leaves the registry unchanged.
func (r *Registry) Register(def Definition) (*Definition, error) {
	d, err := def.normalized()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.state.Load()
	labels := r.keys(d)

	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if _, taken := old.index[l]; taken || seen[l] {
			return nil, fmt.Errorf("%w: %q", domain.ErrDuplicateName, l)
		}
		seen[l] = true
	}

	next := &registryState{
		index: make(map[string]*Definition, len(old.index)+len(labels)),
		defs:  make([]*Definition, 0, len(old.defs)+1),
	}
	for k, v := range old.index {
		next.index[k] = v
	}
	for _, l := range labels {
		next.index[l] = d
	}
	next.defs = append(append(next.defs, old.defs...), d)
	r.state.Store(next)
	return d, nil
}

// MustRegister is Register for definitions known valid at init time.
func (r *Registry) MustRegister(def Definition) *Definition {
	d, err := r.Register(def)
	if err != nil {
		panic(err)
	}
	return d
}

// Lookup finds a definition by name, alias or namespaced label,
// case-insensitively.
func (r *Registry) Lookup(label string) (*Definition, bool) {
	d, ok := r.state.Load().index[strings.ToLower(label)]
	return d, ok
}

// All returns definitions in registration order.
func (r *Registry) All() []*Definition {
	defs := r.state.Load().defs
	return append([]*Definition(nil), defs...)
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	return len(r.state.Load().defs)
}

func (r *Registry) keys(d *Definition) []string {
	labels := d.Labels()
	if r.namespace == "" {
		return labels
	}
	out := make([]string, 0, 2*len(labels))
	out = append(out, labels...)
	for _, l := range labels {
		out = append(out, r.namespace+":"+l)
	}
	return out
}
