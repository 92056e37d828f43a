package eventbus

import (
	"fmt"
	"reflect"
	"time"
)

// Event is any Go value posted to the bus. Dispatch matches on the
// event's own runtime type, its embedded (struct-embedding) supertypes,
// and any interface a registered handler declares — there is no
// separate envelope type to construct, the domain object is posted
// directly.
type Event = any

// DeadEvent wraps an event that was posted but matched no subscriber.
// A DeadEvent is itself posted back onto the bus so a catch-all
// listener (one that subscribes to DeadEvent) can observe it; DeadEvent
// values are never themselves re-wrapped even if nothing subscribes to
// DeadEvent either, which would otherwise recurse forever on a bus with
// no catch-all listener at all.
type DeadEvent struct {
	// Source identifies the bus instance that produced this DeadEvent,
	// for log correlation in programs running more than one bus.
	Source string

	// Event is the original posted value that had no subscriber.
	Event Event

	// PostedAt is when the original Post call happened.
	PostedAt time.Time
}

func (d DeadEvent) String() string {
	return fmt.Sprintf("DeadEvent{source=%s, event=%T}", d.Source, d.Event)
}

// ExceptionContext carries the detail a SubscriberExceptionHandler
// needs to usefully log or report a handler panic or error: which
// event, which subscriber, and the bus that dispatched it.
type ExceptionContext struct {
	Bus        *EventBus
	Event      Event
	EventType  reflect.Type
	Subscriber *Subscriber
}

// SubscriberExceptionHandler is invoked when a subscriber's handler
// returns an error or panics. The default, installed when none is
// configured, logs at Error level and otherwise swallows the failure —
// one broken subscriber must never stop delivery to the others.
type SubscriberExceptionHandler func(err error, ctx ExceptionContext)
