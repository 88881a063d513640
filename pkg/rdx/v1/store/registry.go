package store

import (
	"fmt"
	"reflect"
	"sync"

	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/events"
)

// entry is one registration. Every callback resolves the weak reference
// itself and silently does nothing once the subscriber is gone.
type entry struct {
	key          any
	alive        func() bool
	willChange   func(state any)
	didChange    func(state, old any)
	didSet       func(state any)
	subscription *Subscription
}

// membershipFunc is told about registry changes: the event type, how many
// entries were affected, and the live count afterwards.
type membershipFunc func(change events.EventType, affected, live int)

// registry holds subscribers in registration order together with the
// mappers used to project the root state for them.
type registry struct {
	root reflect.Type

	mu      sync.Mutex
	entries []*entry
	mappers map[reflect.Type]rdx.Mapper

	onMembership membershipFunc
}

func newRegistry(root reflect.Type) *registry {
	return &registry{
		root:    root,
		mappers: make(map[reflect.Type]rdx.Mapper),
	}
}

func (r *registry) addMappers(mappers ...rdx.Mapper) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range mappers {
		if m == nil {
			return gxoerrors.NewConfigError("mapper cannot be nil", nil)
		}
		if src := m.Source(); src == nil || !r.root.AssignableTo(src) {
			return gxoerrors.NewConfigError(
				fmt.Sprintf("mapper '%s' reads %v, which cannot hold store state of type %v", m.Name(), m.Source(), r.root), nil)
		}
		target := m.Target()
		if existing, ok := r.mappers[target]; ok {
			conflict := gxoerrors.NewMapperConflictError(target.String(), existing.Name(), m.Name())
			return gxoerrors.NewConfigError("duplicate state mapper", conflict)
		}
		r.mappers[target] = m
	}
	return nil
}

// projection resolves how root states are turned into values of type sub:
// through a mapper targeting sub, or directly when the root state is (or
// implements) sub.
func (r *registry) projection(sub reflect.Type) (func(state any) (any, bool), error) {
	r.mu.Lock()
	m, ok := r.mappers[sub]
	r.mu.Unlock()
	if ok {
		return m.Map, nil
	}
	if sub == r.root || (sub.Kind() == reflect.Interface && r.root.Implements(sub)) {
		return func(state any) (any, bool) { return state, true }, nil
	}
	return nil, gxoerrors.NewValidationError(
		fmt.Sprintf("cannot observe %v on a store of %v", sub, r.root), gxoerrors.ErrNoProjection)
}

// add registers e unless an entry with the same key is live, then replays
// the current state to the new subscriber.
func (r *registry) add(e *entry, current func() any) *Subscription {
	r.mu.Lock()
	pruned := r.pruneLocked()
	for _, existing := range r.entries {
		if existing.key == e.key {
			live := len(r.entries)
			r.mu.Unlock()
			r.notifyPruned(pruned, live)
			return existing.subscription
		}
	}
	e.subscription = &Subscription{reg: r, key: e.key}
	r.entries = append(r.entries, e)
	live := len(r.entries)
	r.mu.Unlock()

	r.notifyPruned(pruned, live)
	r.membership(events.SubscriberAdded, 1, live)
	e.didSet(current())
	return e.subscription
}

func (r *registry) remove(key any) bool {
	r.mu.Lock()
	pruned := r.pruneLocked()
	removed := false
	for i, e := range r.entries {
		if e.key == key {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			removed = true
			break
		}
	}
	live := len(r.entries)
	r.mu.Unlock()

	r.notifyPruned(pruned, live)
	if removed {
		r.membership(events.SubscriberRemoved, 1, live)
	}
	return removed
}

// count returns the number of live entries.
func (r *registry) count() int {
	r.mu.Lock()
	pruned := r.pruneLocked()
	live := len(r.entries)
	r.mu.Unlock()
	r.notifyPruned(pruned, live)
	return live
}

func (r *registry) notifyWillChange(old any) {
	for _, e := range r.snapshot() {
		e.willChange(old)
	}
}

func (r *registry) notifyDidChange(state, old any) {
	for _, e := range r.snapshot() {
		e.didChange(state, old)
		e.didSet(state)
	}
}

// snapshot prunes and copies the live entries so callbacks run without the
// lock held and may subscribe or unsubscribe themselves.
func (r *registry) snapshot() []*entry {
	r.mu.Lock()
	pruned := r.pruneLocked()
	entries := make([]*entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.Unlock()
	r.notifyPruned(pruned, len(entries))
	return entries
}

// pruneLocked drops entries whose subscriber has been collected and returns
// how many were dropped. r.mu must be held.
func (r *registry) pruneLocked() int {
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.alive() {
			kept = append(kept, e)
		}
	}
	pruned := len(r.entries) - len(kept)
	clear(r.entries[len(kept):])
	r.entries = kept
	return pruned
}

func (r *registry) notifyPruned(pruned, live int) {
	if pruned > 0 {
		r.membership(events.SubscribersPruned, pruned, live)
	}
}

func (r *registry) membership(change events.EventType, affected, live int) {
	if r.onMembership != nil {
		r.onMembership(change, affected, live)
	}
}
