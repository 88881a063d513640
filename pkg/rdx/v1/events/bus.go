package events

import "time"

// EventType represents the type of a store lifecycle event.
type EventType string

// Standard rdx Event Types
const (
	StoreCreated       EventType = "StoreCreated"
	ActionDispatched   EventType = "ActionDispatched"   // Dispatch entered the middleware chain
	StateChanged       EventType = "StateChanged"       // Reduce step finished and observers were notified
	SubscriberAdded    EventType = "SubscriberAdded"
	SubscriberRemoved  EventType = "SubscriberRemoved"
	SubscribersPruned  EventType = "SubscribersPruned"  // Collected subscribers dropped from the registry
	MiddlewareAppended EventType = "MiddlewareAppended"
	ChainMisuse        EventType = "ChainMisuse"        // A continuation was invoked more than once
)

// Event represents a significant occurrence within a store.
type Event struct {
	// Type categorizes the event.
	Type EventType `json:"type"`
	// Timestamp marks when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// StoreName identifies the store that emitted the event.
	StoreName string `json:"store_name,omitempty"`
	// DispatchID correlates every event produced by one dispatch, if applicable.
	DispatchID string `json:"dispatch_id,omitempty"`
	// ActionType is the Go type name of the action involved, if applicable.
	ActionType string `json:"action_type,omitempty"`
	// Payload contains event-specific data. State values are never included.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Bus defines the interface for publishing store events.
type Bus interface {
	// Emit publishes an event to the bus.
	// Implementations should be non-blocking; Emit is called from inside
	// the dispatch path.
	Emit(event Event)
}
