package store

import (
	"context"

	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
)

type typedMiddleware[S, A any] struct {
	fn func(ctx context.Context, state S, action A, next rdx.Continuation, dispatcher rdx.Dispatcher)
}

// MiddlewareOf builds a middleware that only sees states of type S and actions
// of type A. For anything else it calls next.Next() without changes, so it can
// sit anywhere in a heterogeneous chain.
func MiddlewareOf[S, A any](fn func(ctx context.Context, state S, action A, next rdx.Continuation, dispatcher rdx.Dispatcher)) rdx.Middleware {
	return &typedMiddleware[S, A]{fn: fn}
}

func (m *typedMiddleware[S, A]) Intercept(ctx context.Context, state any, action rdx.Action, next rdx.Continuation, dispatcher rdx.Dispatcher) {
	s, okState := state.(S)
	a, okAction := action.(A)
	if !okState || !okAction || m.fn == nil {
		_ = next.Next()
		return
	}
	m.fn(ctx, s, a, next, dispatcher)
}

// Then is a typed WithCompletion. fn is skipped if the post-reduce state is
// not an S.
func Then[S any](fn func(state S)) rdx.NextOption {
	return rdx.WithCompletion(func(state any) {
		if s, ok := state.(S); ok {
			fn(s)
		}
	})
}
