// Package events is the in-process bus that carries dashboard and map
// notifications from the session layer to the SSE fan-out and scheduler.
package events

import (
	"context"
	"time"
)

// Event is anything published on the bus. Subscribers are keyed by
// EventName, so two event types must never share a name.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent is embedded by concrete events to carry the publish time.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// Handler reacts to one published event. A failing handler never stops the
// other subscribers: Publish logs its error and PublishSync joins it into
// the returned error.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc lets a plain function subscribe.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus routes events by name.
//
// Publish hands the event to subscribers on their own goroutines and returns
// at once. PublishSync runs subscribers in registration order on the
// caller's goroutine, which map commands rely on to keep a session's SSE
// stream in command order.
type Bus interface {
	Publish(ctx context.Context, event Event)
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}
