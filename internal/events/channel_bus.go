package events

import (
	"sync"
	"sync/atomic"

	"github.com/gxo-labs/rdx/pkg/rdx/v1/events"
	gxolog "github.com/gxo-labs/rdx/pkg/rdx/v1/log"
)

// ChannelEventBus implements events.Bus on top of a buffered channel. Stores
// emit from inside the dispatch path, so emission never blocks: when the
// buffer is full the event is dropped and a warning is logged.
type ChannelEventBus struct {
	channel chan events.Event
	log     gxolog.Logger

	// closeMu keeps Emit from racing with Close on the channel.
	closeMu sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewChannelEventBus creates a new ChannelEventBus with the specified buffer size.
// A non-positive size selects the default of 100. Panics if log is nil.
func NewChannelEventBus(bufferSize int, log gxolog.Logger) *ChannelEventBus {
	const defaultBufferSize = 100
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		panic("ChannelEventBus requires a non-nil logger")
	}

	bus := &ChannelEventBus{
		channel: make(chan events.Event, bufferSize),
		log:     log.With("component", "ChannelEventBus"),
	}
	bus.log.Debugf("ChannelEventBus initialized with buffer size %d", bufferSize)
	return bus
}

// Emit sends an event onto the internal buffered channel without blocking.
// Events emitted after Close are discarded.
func (c *ChannelEventBus) Emit(event events.Event) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.channel <- event:
		c.log.Debugf("Emitted event type '%s'", event.Type)
	default:
		c.dropped.Add(1)
		c.log.Warnf("Event channel buffer full, dropping event type '%s'", event.Type)
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (c *ChannelEventBus) Dropped() uint64 {
	return c.dropped.Load()
}

// GetChannel returns the read side of the event channel for in-process
// listeners such as MetricsEventListener. It is not part of events.Bus.
func (c *ChannelEventBus) GetChannel() <-chan events.Event {
	return c.channel
}

// Close closes the underlying event channel, which stops listeners ranging
// over GetChannel. Calling Close twice is harmless.
func (c *ChannelEventBus) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.log.Debugf("Closing ChannelEventBus channel.")
	c.closed = true
	close(c.channel)
}

var _ events.Bus = (*ChannelEventBus)(nil)
