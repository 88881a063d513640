package store

import (
	"fmt"
	"reflect"
	"weak"

	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
)

// Subscriber observes state transitions of type S. S is either the store's
// state type, an interface it implements, or the target of a registered mapper.
type Subscriber[S any] interface {
	// WillChange is called before the state is replaced.
	WillChange(state S)
	// DidChange is called after the state is replaced.
	DidChange(state, oldState S)
	// DidSet is called after every replacement and once on subscribe with
	// the current state.
	DidSet(state S)
}

// BaseSubscriber provides no-op callbacks. Embed it and override only the
// callbacks you need.
type BaseSubscriber[S any] struct{}

func (BaseSubscriber[S]) WillChange(S)   {}
func (BaseSubscriber[S]) DidChange(S, S) {}
func (BaseSubscriber[S]) DidSet(S)       {}

// Observable is anything subscribers can be attached to: *Store and
// *MockSource.
type Observable interface {
	// AnyState returns the current root state.
	AnyState() any
	registry() *registry
}

// Subscription identifies one registration. It does not keep the subscriber alive.
type Subscription struct {
	reg *registry
	key any
}

// Unsubscribe removes the registration. It reports whether an entry was removed.
func (s *Subscription) Unsubscribe() bool {
	if s == nil || s.reg == nil {
		return false
	}
	return s.reg.remove(s.key)
}

// Subscribe registers sub for state transitions of src, projected to Sub.
//
// The registry only holds a weak reference: once sub is otherwise unreachable
// it stops receiving callbacks and is pruned on the next registry access.
// Subscribing the same pointer twice returns the existing subscription without
// replaying. On success sub immediately receives DidSet with the current state.
// If Sub can be neither mapped from nor matched against the root state, a
// ValidationError wrapping ErrNoProjection is returned and nothing is registered.
//
// sub must point to heap memory: weak references cannot be taken to zero-sized
// values or package-level variables. Zero-sized subscriber types are rejected
// with a ValidationError; give such a type a field, or wrap a global in a
// heap-allocated value.
func Subscribe[Sub any, T any, P interface {
	*T
	Subscriber[Sub]
}](src Observable, sub P) (*Subscription, error) {
	if src == nil {
		return nil, gxoerrors.NewValidationError("cannot subscribe to a nil source", nil)
	}
	if (*T)(sub) == nil {
		return nil, gxoerrors.NewValidationError("subscriber cannot be nil", nil)
	}
	if zeroSized[T]() {
		return nil, gxoerrors.NewValidationError(
			fmt.Sprintf("subscriber type %s is zero-sized and has no stable identity", reflect.TypeFor[T]()), nil)
	}

	reg := src.registry()
	project, err := reg.projection(reflect.TypeFor[Sub]())
	if err != nil {
		return nil, err
	}

	wp := weak.Make((*T)(sub))
	view := func(state any) (Sub, bool) {
		var zero Sub
		v, ok := project(state)
		if !ok {
			return zero, false
		}
		s, ok := v.(Sub)
		return s, ok
	}

	e := &entry{
		key:   wp,
		alive: func() bool { return wp.Value() != nil },
		willChange: func(state any) {
			p := wp.Value()
			if p == nil {
				return
			}
			if s, ok := view(state); ok {
				P(p).WillChange(s)
			}
		},
		didChange: func(state, old any) {
			p := wp.Value()
			if p == nil {
				return
			}
			s, ok := view(state)
			if !ok {
				return
			}
			o, ok := view(old)
			if !ok {
				return
			}
			P(p).DidChange(s, o)
		},
		didSet: func(state any) {
			p := wp.Value()
			if p == nil {
				return
			}
			if s, ok := view(state); ok {
				P(p).DidSet(s)
			}
		},
	}
	return reg.add(e, src.AnyState), nil
}

// Unsubscribe removes sub from src by identity. It reports whether sub was
// registered. Zero-sized subscribers can never be registered, so it reports
// false for them.
func Unsubscribe[T any](src Observable, sub *T) bool {
	if src == nil || sub == nil || zeroSized[T]() {
		return false
	}
	return src.registry().remove(weak.Make(sub))
}

// zeroSized reports whether T occupies no memory. Pointers to such values all
// share one address outside the heap, where weak.Make aborts the process.
func zeroSized[T any]() bool {
	return reflect.TypeFor[T]().Size() == 0
}
