package v1

import (
	"context"
	"fmt"
	"reflect"

	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/events"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/metrics"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/tracing"
)

// Action is any value dispatched to a store. Its dynamic Go type is the
// action's type tag; reducers and middleware match on it.
type Action interface{}

// Dispatcher is anything able to start a dispatch cycle.
type Dispatcher interface {
	// Dispatch sends action through the middleware chain and, unless a
	// middleware swallows it, into the reducer. Results are only observable
	// through subscribers.
	Dispatch(ctx context.Context, action Action)
}

// NextParams holds the overrides a middleware passes to its continuation.
type NextParams struct {
	// Action replaces the dispatched action for the rest of the chain when non-nil.
	Action Action
	// Completion runs after the reduce step with the resulting state.
	Completion func(state any)
}

// NextOption configures a single Continuation.Next call.
type NextOption func(*NextParams)

// WithAction rewrites the action seen by the remaining middleware and the reducer.
func WithAction(action Action) NextOption {
	return func(p *NextParams) {
		p.Action = action
	}
}

// WithCompletion attaches fn to the chain. Completions run after the reduce
// step, most recently attached first.
func WithCompletion(fn func(state any)) NextOption {
	return func(p *NextParams) {
		p.Completion = fn
	}
}

// Continuation is the single-use capability a middleware calls to hand
// control to the next link of the chain. A second call on the same
// continuation has no effect and returns a ChainMisuseError.
type Continuation interface {
	Next(opts ...NextOption) error
}

// Middleware intercepts every dispatched action before it reaches the reducer.
// Not calling next swallows the action.
type Middleware interface {
	Intercept(ctx context.Context, state any, action Action, next Continuation, dispatcher Dispatcher)
}

// MiddlewareFunc adapts an ordinary function to the Middleware interface.
type MiddlewareFunc func(ctx context.Context, state any, action Action, next Continuation, dispatcher Dispatcher)

// Intercept calls f.
func (f MiddlewareFunc) Intercept(ctx context.Context, state any, action Action, next Continuation, dispatcher Dispatcher) {
	f(ctx, state, action, next, dispatcher)
}

// Mapper projects the root state of a store onto a narrower substate type.
type Mapper interface {
	// Name identifies the mapper in logs and conflict errors.
	Name() string
	// Source is the root state type the mapper reads.
	Source() reflect.Type
	// Target is the substate type the mapper produces. It is the registry key.
	Target() reflect.Type
	// Map returns the projection, or false when state cannot be projected.
	Map(state any) (any, bool)
}

// StoreV1 is the non-generic view of a store, used by options and by
// collaborators that do not know the concrete state type.
type StoreV1 interface {
	Dispatcher

	// Name returns the store name used in logs, metrics and events.
	Name() string
	// AnyState returns the current state as an untyped value.
	AnyState() any
	// AppendMiddleware adds middleware to the end of the chain. Chains that
	// are already in flight are unaffected.
	AppendMiddleware(middleware ...Middleware)

	// MetricsRegistryProvider returns the underlying metrics provider.
	MetricsRegistryProvider() metrics.RegistryProvider
	// TracerProvider returns the underlying tracing provider.
	TracerProvider() tracing.TracerProvider

	// Setter methods for configuring store components at construction.
	SetName(name string) error
	SetEventBus(bus events.Bus) error
	SetMetricsRegistryProvider(provider metrics.RegistryProvider) error
	SetTracerProvider(provider tracing.TracerProvider) error
	AddMappers(mappers ...Mapper) error
}

// StoreOption is a function type used to configure a store at creation.
type StoreOption func(StoreV1) error

// WithName is a store option to set the store name.
func WithName(name string) StoreOption {
	return func(s StoreV1) error {
		if name == "" {
			return gxoerrors.NewConfigError("store name cannot be empty", nil)
		}
		return s.SetName(name)
	}
}

// WithEventBus is a store option to provide a custom event bus.
func WithEventBus(bus events.Bus) StoreOption {
	return func(s StoreV1) error {
		if bus == nil {
			return gxoerrors.NewConfigError("event bus cannot be nil", nil)
		}
		return s.SetEventBus(bus)
	}
}

// WithMetricsRegistryProvider is a store option to provide a custom metrics provider.
func WithMetricsRegistryProvider(provider metrics.RegistryProvider) StoreOption {
	return func(s StoreV1) error {
		if provider == nil {
			return gxoerrors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		return s.SetMetricsRegistryProvider(provider)
	}
}

// WithTracerProvider is a store option to provide a custom tracing provider.
func WithTracerProvider(provider tracing.TracerProvider) StoreOption {
	return func(s StoreV1) error {
		if provider == nil {
			return gxoerrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return s.SetTracerProvider(provider)
	}
}

// WithMappers registers state projections. Two mappers for the same target
// type make store construction fail.
func WithMappers(mappers ...Mapper) StoreOption {
	return func(s StoreV1) error {
		for _, m := range mappers {
			if m == nil {
				return gxoerrors.NewConfigError("mapper cannot be nil", nil)
			}
		}
		return s.AddMappers(mappers...)
	}
}

// WithMiddleware installs the initial middleware chain, outermost first.
func WithMiddleware(middleware ...Middleware) StoreOption {
	return func(s StoreV1) error {
		for i, mw := range middleware {
			if mw == nil {
				return gxoerrors.NewConfigError(fmt.Sprintf("middleware at position %d cannot be nil", i), nil)
			}
		}
		s.AppendMiddleware(middleware...)
		return nil
	}
}
