package channel

import "fmt"

// Registry resolves a channel tag to its concrete Adapter. The
// dispatcher and webhook ingress hold one Registry each, populated at
// startup with every compiled-in platform adapter.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, keyed by its own Name(). Registering the
// same name twice overwrites the earlier entry.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a channel tag, or an error if none is
// registered — the dispatcher surfaces this as coreerr.CodeUnknownChannel.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("channel: unknown channel %q", name)
	}
	return a, nil
}

// All returns every registered adapter, used by the reconciler to walk
// every channel for every property.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}
