// Package events is the in-process bus the conductor publishes to once a
// pass has committed. Subscribers observe outcomes; they never take part in
// the pass and cannot roll it back.
package events

import (
	"context"
	"time"
)

// Event is anything published on the bus. Names are stable strings such as
// "leads.lead.opted_out" and are used as subscription keys.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent carries the publish timestamp. Embed it in concrete events.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event in UTC, matching the audit trail.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// Handler reacts to a committed event. Returned errors are logged by the bus.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans committed events out to subscribers.
type Bus interface {
	// Publish returns immediately; handlers run on their own goroutines with
	// a context detached from the publisher's cancellation.
	Publish(ctx context.Context, event Event)

	// PublishSync runs every handler before returning and joins their errors.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe keys handler by Event.EventName.
	Subscribe(eventName string, handler Handler)
}
