package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// HandlerFunc processes one delivered event. A returned error is routed
// to the bus's SubscriberExceptionHandler rather than propagated to the
// publisher — Post never fails because a subscriber did.
type HandlerFunc func(ctx context.Context, event Event) error

// Executor runs a dispatch task. InlineExecutor and GoroutineExecutor
// cover the two built-in dispatch strategies; a caller can also supply
// a bounded worker-pool executor of its own.
type Executor interface {
	Execute(task func())
}

// InlineExecutor runs the task synchronously, on the calling goroutine.
type InlineExecutor struct{}

// Execute implements Executor.
func (InlineExecutor) Execute(task func()) { task() }

// GoroutineExecutor runs the task on a freshly spawned goroutine.
type GoroutineExecutor struct{}

// Execute implements Executor.
func (GoroutineExecutor) Execute(task func()) { go task() }

// HandlerSpec describes one subscriber method: the event type it
// wants, the handler itself, which Executor runs it, and whether
// concurrent invocations of this same handler are safe. AllowConcurrent
// defaults to false, meaning the bus serializes calls to this one
// handler even under a concurrent dispatcher.
type HandlerSpec struct {
	EventType       reflect.Type
	Handler         HandlerFunc
	Executor        Executor
	AllowConcurrent bool
}

// Listener is implemented by anything that can enumerate its own
// subscriber methods. Go has no portable way to scan a type for tagged
// methods, so the listener itself supplies the (event-type, handler)
// pairs it wants registered.
type Listener interface {
	Subscriptions() []HandlerSpec
}

// Subscriber is one registered (listener, event type, handler) binding.
// Two Subscribers are never == comparable directly (HandlerFunc values
// aren't comparable in Go); identity instead goes through the
// generated id, which is stable for the lifetime of a single
// Register/Unregister pair.
type Subscriber struct {
	id              string
	listener        Listener
	eventType       reflect.Type
	handler         HandlerFunc
	executor        Executor
	allowConcurrent bool

	// serial guards handler invocation when allowConcurrent is false,
	// so a single subscriber method is never entered re-entrantly from
	// two concurrent dispatches even though the bus as a whole may be
	// dispatching many events in parallel.
	serial sync.Mutex
}

func newSubscriber(listener Listener, spec HandlerSpec) *Subscriber {
	executor := spec.Executor
	if executor == nil {
		executor = InlineExecutor{}
	}
	return &Subscriber{
		id:              uuid.NewString(),
		listener:        listener,
		eventType:       spec.EventType,
		handler:         spec.Handler,
		executor:        executor,
		allowConcurrent: spec.AllowConcurrent,
	}
}

// ID returns a unique identifier for this subscriber binding, stable
// across Post calls until Unregister removes it.
func (s *Subscriber) ID() string { return s.id }

// EventType returns the declared event type this subscriber matches.
func (s *Subscriber) EventType() reflect.Type { return s.eventType }

func (s *Subscriber) invoke(ctx context.Context, event Event) (err error) {
	if s.handler == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("eventbus: subscriber panicked: %v", p)
		}
	}()
	if s.allowConcurrent {
		return s.handler(ctx, event)
	}
	s.serial.Lock()
	defer s.serial.Unlock()
	return s.handler(ctx, event)
}
