package store

import (
	"reflect"
	"sync"

	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
)

// Source is a read-only view of a state of type S that subscribers can be
// attached to. Collaborators that only observe should depend on Source
// rather than on *Store.
type Source[S any] interface {
	Observable
	State() S
}

// MockSource is a Source whose state is set directly. It notifies subscribers
// exactly like a store does, which makes it useful for testing components
// that observe state without running reducers or middleware.
type MockSource[S any] struct {
	mu    sync.RWMutex
	state S
	subs  *registry
}

var _ Source[int] = (*MockSource[int])(nil)

// NewMockSource creates a MockSource holding initial. Mappers follow the same
// rules as for New.
func NewMockSource[S any](initial S, mappers ...rdx.Mapper) (*MockSource[S], error) {
	m := &MockSource[S]{
		state: initial,
		subs:  newRegistry(reflect.TypeFor[S]()),
	}
	if err := m.subs.addMappers(mappers...); err != nil {
		return nil, err
	}
	return m, nil
}

// Update replaces the state and notifies subscribers.
func (m *MockSource[S]) Update(state S) {
	old := m.State()
	m.subs.notifyWillChange(old)
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.subs.notifyDidChange(state, old)
}

func (m *MockSource[S]) State() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *MockSource[S]) AnyState() any { return m.State() }

// SubscriberCount returns the number of live subscriptions.
func (m *MockSource[S]) SubscriberCount() int { return m.subs.count() }

func (m *MockSource[S]) registry() *registry { return m.subs }
