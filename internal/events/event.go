// Package events provides the central pub/sub router of the simulation core.
// Every state change in the engine flows through the Bus: global and
// entity-scoped subscriptions, an ordered middleware chain, filtering,
// debounce, batching, and a bounded history of past events.
package events

import (
	"time"
)

// EventType defines the category of a system event.
type EventType string

// Lifecycle event types emitted by the core components.
const (
	EventTypeTick             EventType = "tick"
	EventTypeEntityRegistered EventType = "entityRegistered"
	EventTypeEntityRemoved    EventType = "entityRemoved"
	EventTypeUnlocked         EventType = "unlocked"
	EventTypeEntityUnlocked   EventType = "entityUnlocked"
	EventTypeCostCalculated   EventType = "costCalculated"
	EventTypeCostValidated    EventType = "costValidated"
	EventTypeResourcesSpent   EventType = "resourcesSpent"
	EventTypeSpendingFailed   EventType = "spendingFailed"
	EventTypeCapacityChanged  EventType = "capacityChanged"
	EventTypeStorageBuilt     EventType = "storageBuilt"
	EventTypeStorageAdded     EventType = "storageAdded"
	EventTypeStorageRemoved   EventType = "storageRemoved"
	EventTypeProductionStart  EventType = "productionStarted"
	EventTypeProductionStop   EventType = "productionStopped"
)

// SystemEvent is an immutable record of something that happened in the
// simulation. Once emitted it must not be mutated; middleware operates on
// the record before listeners ever see it.
type SystemEvent struct {
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source,omitempty"`
	Target    string                 `json:"target,omitempty"`
}

// Handler is a listener callback.
type Handler func(SystemEvent)

// Middleware intercepts events before dispatch. It may mutate the event's
// Data and must call next() to let the event proceed. Not calling next
// silently drops the event; the bus counts such drops but does not
// prevent them.
type Middleware func(evt *SystemEvent, next func())

// ErrorHandler receives listener failures together with the event that
// triggered them.
type ErrorHandler func(err error, evt SystemEvent)

// SubscribeOptions narrow which events reach a listener.
type SubscribeOptions struct {
	// EntityID restricts delivery to events whose Target matches.
	EntityID string
	// Tags restricts delivery to events targeting an entity carrying at
	// least one of these tags. Requires a tag resolver on the bus.
	Tags []string
	// Filter is an arbitrary predicate; false means skip this listener.
	Filter func(SystemEvent) bool
	// Once unsubscribes the listener after its first delivery.
	Once bool
	// Debounce collapses rapid repeats to the trailing event only.
	Debounce time.Duration
	// Priority is reserved and currently advisory only: dispatch order
	// remains strict FIFO per listener list regardless of this value.
	Priority int
}

// EmitOptions attach metadata to an emitted event.
type EmitOptions struct {
	Source string
	Target string
	// Meta is merged into the event's Data map, without overwriting
	// caller-supplied keys.
	Meta map[string]interface{}
	// Batch routes the event through the batch buffer instead of
	// dispatching immediately.
	Batch bool
}

// HistoryFilter narrows GetHistory results; zero values match everything.
type HistoryFilter struct {
	Type   EventType
	Target string
	Since  time.Time
}

// Matches reports whether an event passes the filter.
func (f HistoryFilter) Matches(evt SystemEvent) bool {
	if f.Type != "" && evt.Type != f.Type {
		return false
	}
	if f.Target != "" && evt.Target != f.Target {
		return false
	}
	if !f.Since.IsZero() && evt.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
