// Package adapter contains the per-site logic that turns a monitored URL
// into an observation. Adapters never return errors; fetch or parse
// failures are reported as unsuccessful observations so the caller can
// apply its retry and anomaly policies uniformly.
package adapter

import (
	"context"
	"fmt"

	"stockwatch/internal/model"
)

// Adapter observes one kind of resource.
type Adapter interface {
	Kind() model.AdapterKind
	Check(ctx context.Context, target model.Target) *model.Observation
}

// Registry maps adapter kinds to their implementations.
type Registry struct {
	adapters map[model.AdapterKind]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.AdapterKind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// For returns the adapter for the given kind.
func (r *Registry) For(kind model.AdapterKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter for kind %q", kind)
	}
	return a, nil
}

// Kinds lists the registered adapter kinds.
func (r *Registry) Kinds() []model.AdapterKind {
	kinds := make([]model.AdapterKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	return kinds
}

func failed(method, msg string) *model.Observation {
	return &model.Observation{
		Success:      false,
		Method:       method,
		ErrorMessage: msg,
	}
}
