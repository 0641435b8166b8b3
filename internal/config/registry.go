package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/ttsgateway/pkg/backend"
)

// ErrBackendNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested kind.
var ErrBackendNotRegistered = errors.New("config: backend kind not registered")

// Factory builds an adapter from its config entry.
type Factory func(BackendEntry) (backend.Adapter, error)

// Registry maps backend kind names ("qwen3-tts", "indextts-2.0", "mock") to
// adapter factories. The binary fills it once at start-up. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers factory under kind. Subsequent calls with the same kind
// overwrite the previous registration.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Create instantiates an adapter using the factory registered under kind.
func (r *Registry) Create(kind string, entry BackendEntry) (backend.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, kind)
	}
	a, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create %s backend %q: %w", kind, entry.ID, err)
	}
	return a, nil
}
