package plugin

import (
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
)

// MiddlewareFactory builds a configured middleware instance.
//
// Parameters:
//   - params: the `params` block of a scenario middleware entry, decoded from
//     YAML. Factories should validate it with the helpers in internal/paramutil
//     and return a ValidationError for bad input.
//   - log: a logger already scoped to the middleware type.
//
// Factories run once per store; the returned middleware is shared by every
// dispatch of that store and must be safe for re-entrant use.
type MiddlewareFactory func(params map[string]interface{}, log gxolog.Logger) (rdx.Middleware, error)

// Registry defines the public interface for the middleware plugin registry.
// It provides a mechanism for registering and retrieving factories by name.
type Registry interface {
	// Get retrieves the factory for a given middleware name.
	// It returns a gxoerrors.MiddlewareNotFoundError if the name is not registered.
	Get(name string) (MiddlewareFactory, error)

	// Register associates a middleware type name with its factory function.
	// It returns an error if the name is empty, the factory is nil, or the
	// name is already registered.
	Register(name string, factory MiddlewareFactory) error

	// List returns the names of all registered middleware, in no particular order.
	List() []string
}
