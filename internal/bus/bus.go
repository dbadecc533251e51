// Package bus is the cross-process fan-out channel. Any process publishes an
// event tagged with a room id; every process subscribed to that room —
// including the publisher — delivers it to its own locally attached
// connections. Delivery is best-effort, unordered across distinct
// publishers, and never acknowledged.
package bus

import (
	"context"
	"encoding/json"
)

// Event kinds carried on the bus.
const (
	KindRoster  = "roster"
	KindMessage = "message"
)

// Event is one room-tagged fan-out unit.
type Event struct {
	Room    string          `json:"room"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Handler consumes a delivered event. Handlers run on the bus's delivery
// goroutine and must not block.
type Handler func(Event)

// Bus is a room-scoped publish/subscribe channel. A process subscribes to a
// room the first time any of its local connections joins it and unsubscribes
// when none remain; the caller is responsible for that reference counting.
type Bus interface {
	// Publish sends the event to every subscribed process. Events published
	// from a single process are delivered in publish order; no ordering holds
	// across publishers.
	Publish(ctx context.Context, evt Event) error
	// Subscribe registers the handler for a room. Subscribing to an already
	// subscribed room is a no-op.
	Subscribe(room string, h Handler) error
	// Unsubscribe drops the room subscription. Unknown rooms are a no-op.
	Unsubscribe(room string) error
	// Close drops every subscription.
	Close()
}
