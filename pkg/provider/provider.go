// Package provider abstracts over upstream LLM providers behind a single
// Adapter interface so the pipeline never special-cases OpenAI versus
// Bedrock wiring.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/llmsecgw/gateway/pkg/apitypes"
)

// Adapter forwards a canonical request to one upstream provider.
type Adapter interface {
	// Complete performs a single non-streaming call.
	Complete(ctx context.Context, req apitypes.Request) (apitypes.Response, error)
	// Stream performs a streaming call. The returned channel is closed once
	// a terminal chunk (IsTerminal) has been sent or ctx is done.
	Stream(ctx context.Context, req apitypes.Request) (<-chan apitypes.Chunk, error)
}

// Registry resolves a client's configured provider tag to an Adapter.
// Adapters are constructed lazily on first use (spec.md §4.6 "providers
// with no configured clients never dial out"), mirroring goadesign-goa-ai's
// bedrock.New's lazy-construction convention.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]Adapter
	factory  map[string]func() (Adapter, error)
}

// NewRegistry builds an empty registry. Register a factory per provider tag
// before the registry is used.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		factory:  make(map[string]func() (Adapter, error)),
	}
}

// Register associates a provider tag with a lazy adapter constructor.
func (r *Registry) Register(tag string, factory func() (Adapter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory[tag] = factory
}

// Get returns the adapter for tag, constructing it on first use.
func (r *Registry) Get(tag string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[tag]; ok {
		return a, nil
	}
	f, ok := r.factory[tag]
	if !ok {
		return nil, fmt.Errorf("provider: no adapter registered for %q", tag)
	}
	a, err := f()
	if err != nil {
		return nil, fmt.Errorf("provider: construct %q adapter: %w", tag, err)
	}
	r.adapters[tag] = a
	return a, nil
}
