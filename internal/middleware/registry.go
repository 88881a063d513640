// Package middleware holds the registry that maps middleware type names from
// scenario files to their factories.
package middleware

import (
	"context"
	"fmt"
	"sort"
	"sync"

	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/plugin"
)

// DryRunKey is the context key signalling dry-run mode. Middleware with side
// effects must check it and only simulate their work when it holds true.
type DryRunKey struct{}

// IsDryRun reports whether ctx carries dry-run mode.
func IsDryRun(ctx context.Context) bool {
	// A missing key or a non-bool value both mean a real run.
	v, _ := ctx.Value(DryRunKey{}).(bool)
	return v
}

// StaticRegistry implements plugin.Registry with a map filled at startup.
type StaticRegistry struct {
	// factories maps the scenario `type` string to its constructor.
	factories map[string]plugin.MiddlewareFactory
	// mu guards factories; reads vastly outnumber writes after init().
	mu sync.RWMutex
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		factories: make(map[string]plugin.MiddlewareFactory),
	}
}

// Register associates a middleware type name with its factory. Names and
// factories must be non-empty and names unique.
func (r *StaticRegistry) Register(name string, factory plugin.MiddlewareFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return gxoerrors.NewConfigError("middleware registration error: name cannot be empty", nil)
	}
	if factory == nil {
		return gxoerrors.NewConfigError(fmt.Sprintf("middleware registration error for '%s': factory cannot be nil", name), nil)
	}
	// Two modules claiming one name would make scenarios ambiguous.
	if _, exists := r.factories[name]; exists {
		return gxoerrors.NewConfigError(fmt.Sprintf("middleware registration error: duplicate middleware name '%s'", name), nil)
	}
	r.factories[name] = factory
	return nil
}

// Get returns the factory for name, or a MiddlewareNotFoundError.
func (r *StaticRegistry) Get(name string) (plugin.MiddlewareFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	if !exists {
		return nil, gxoerrors.NewMiddlewareNotFoundError(name)
	}
	return factory, nil
}

// List returns the registered names, sorted.
func (r *StaticRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	// Map iteration order is random; callers print this list.
	sort.Strings(names)
	return names
}

var (
	// globalRegistry is filled by the init() functions of modules/*.
	globalRegistry = NewStaticRegistry()

	_ plugin.Registry = (*StaticRegistry)(nil)
)

// Register adds a factory to the global registry. It is meant for init()
// functions and panics on error, since a bad registration is a programming
// mistake.
func Register(name string, factory plugin.MiddlewareFactory) {
	if err := globalRegistry.Register(name, factory); err != nil {
		panic(fmt.Errorf("failed to register middleware '%s' globally: %w", name, err))
	}
}

// DefaultStaticRegistryGetter exposes the global registry holding every
// middleware registered from init().
var DefaultStaticRegistryGetter plugin.Registry = globalRegistry
