package store

import (
	"reflect"

	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
)

type mapper[S, Sub any] struct {
	name string
	fn   func(S) (Sub, bool)
}

// NewMapper declares a projection from the root state S to Sub. Subscribers
// of Sub on a store registered with this mapper receive fn's result; when fn
// reports false the notification is skipped for them.
//
// A store accepts at most one mapper per target type.
func NewMapper[S, Sub any](name string, fn func(state S) (Sub, bool)) rdx.Mapper {
	return &mapper[S, Sub]{name: name, fn: fn}
}

func (m *mapper[S, Sub]) Name() string         { return m.name }
func (m *mapper[S, Sub]) Source() reflect.Type { return reflect.TypeFor[S]() }
func (m *mapper[S, Sub]) Target() reflect.Type { return reflect.TypeFor[Sub]() }

func (m *mapper[S, Sub]) Map(state any) (any, bool) {
	s, ok := state.(S)
	if !ok || m.fn == nil {
		return nil, false
	}
	sub, ok := m.fn(s)
	if !ok {
		return nil, false
	}
	return sub, true
}
