// Package store implements the generic rdx store: reducer composition, the
// continuation-passing middleware chain, and the weakly referenced
// subscriber registry with state projections.
package store

import (
	"reflect"
	"sync"

	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
)

// Reducer computes the next state from the current state and an action.
// Reducers must be pure and total: an action they do not handle returns
// state unchanged.
type Reducer[S any] interface {
	Reduce(state S, action rdx.Action) S
}

// ReducerFunc adapts a function to Reducer. It receives every action.
type ReducerFunc[S any] func(state S, action rdx.Action) S

func (f ReducerFunc[S]) Reduce(state S, action rdx.Action) S {
	return f(state, action)
}

// tagged is implemented by reducers that only handle one action type.
type tagged interface {
	ActionType() reflect.Type
}

type typedReducer[S, A any] struct {
	fn  func(S, A) S
	tag reflect.Type
}

// On returns a reducer that runs fn only for actions of type A. When A is an
// interface type, any action implementing it matches. Every other action
// leaves the state unchanged.
func On[S, A any](fn func(state S, action A) S) Reducer[S] {
	return &typedReducer[S, A]{fn: fn, tag: reflect.TypeFor[A]()}
}

func (r *typedReducer[S, A]) Reduce(state S, action rdx.Action) S {
	a, ok := action.(A)
	if !ok || r.fn == nil {
		return state
	}
	return r.fn(state, a)
}

func (r *typedReducer[S, A]) ActionType() reflect.Type { return r.tag }

// Empty returns the identity reducer.
func Empty[S any]() Reducer[S] {
	return ReducerFunc[S](func(state S, _ rdx.Action) S { return state })
}

type combined[S any] struct {
	reducers []Reducer[S]

	mu    sync.RWMutex
	index map[reflect.Type][]Reducer[S]
}

// Combine folds reducers left to right, threading the state through every
// reducer whose action type matches. Reducers without a declared action type
// (ReducerFunc, nested Combine) receive every action. The reducers matching a
// given action type are resolved once and cached.
func Combine[S any](reducers ...Reducer[S]) Reducer[S] {
	rs := make([]Reducer[S], 0, len(reducers))
	for _, r := range reducers {
		if r != nil {
			rs = append(rs, r)
		}
	}
	return &combined[S]{reducers: rs, index: make(map[reflect.Type][]Reducer[S])}
}

func (c *combined[S]) Reduce(state S, action rdx.Action) S {
	for _, r := range c.route(action) {
		state = r.Reduce(state, action)
	}
	return state
}

func (c *combined[S]) route(action rdx.Action) []Reducer[S] {
	t := reflect.TypeOf(action)

	c.mu.RLock()
	rs, ok := c.index[t]
	c.mu.RUnlock()
	if ok {
		return rs
	}

	rs = make([]Reducer[S], 0, len(c.reducers))
	for _, r := range c.reducers {
		if tr, ok := r.(tagged); ok && !actionMatches(tr.ActionType(), t) {
			continue
		}
		rs = append(rs, r)
	}

	c.mu.Lock()
	c.index[t] = rs
	c.mu.Unlock()
	return rs
}

// actionMatches reports whether an action of dynamic type t is handled by a
// reducer declared for tag. A nil action matches no tag.
func actionMatches(tag, t reflect.Type) bool {
	if t == nil {
		return false
	}
	if tag.Kind() == reflect.Interface {
		return t.Implements(tag)
	}
	return t == tag
}
