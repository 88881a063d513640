package events

import "github.com/gxo-labs/rdx/pkg/rdx/v1/events"

// NoOpEventBus is the default events.Bus of a store. Emit discards every
// event, so stores can emit unconditionally without nil checks.
type NoOpEventBus struct{}

// NewNoOpEventBus creates a new instance of the NoOpEventBus.
func NewNoOpEventBus() events.Bus {
	return &NoOpEventBus{}
}

// Emit implements the events.Bus interface method and does nothing.
func (n *NoOpEventBus) Emit(event events.Event) {}

var _ events.Bus = (*NoOpEventBus)(nil)
