// Package eventbus implements a typed publish/subscribe bus: Post
// delivers an event to every subscriber whose declared type is
// satisfied by the event's own type, an embedded supertype of it, or
// an interface it implements. Dispatch order and concurrency are a
// property of the configured Dispatcher, not of the bus itself — see
// ImmediateDispatcher, PerGoroutineQueuedDispatcher, and
// LegacyAsyncDispatcher.
package eventbus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/ratevent/internal/rvlog"
)

// EventBus is the bus itself. The zero value is not usable; build one
// with NewEventBus.
type EventBus struct {
	id               string
	logger           rvlog.Logger
	dispatcher       Dispatcher
	registry         *SubscriberRegistry
	exceptionHandler SubscriberExceptionHandler
	observer         *CloudEventObserver

	mu      sync.RWMutex
	started bool

	postedCount    uint64
	deliveredCount uint64
	deadCount      uint64
	errorCount     uint64
}

// Option configures an EventBus at construction time.
type Option func(*EventBus)

// WithDispatcher selects the dispatch strategy. Defaults to
// PerGoroutineQueuedDispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(b *EventBus) { b.dispatcher = d }
}

// WithLogger injects a Logger for lifecycle and delivery tracing.
func WithLogger(l rvlog.Logger) Option {
	return func(b *EventBus) { b.logger = rvlog.OrNoop(l) }
}

// WithExceptionHandler overrides how subscriber errors are reported.
// Defaults to logging at Error level.
func WithExceptionHandler(h SubscriberExceptionHandler) Option {
	return func(b *EventBus) { b.exceptionHandler = h }
}

// WithCloudEventObserver attaches an optional CloudEvents mirror of
// bus activity.
func WithCloudEventObserver(o *CloudEventObserver) Option {
	return func(b *EventBus) { b.observer = o }
}

// WithID overrides the bus's generated id, useful when correlating
// logs across more than one bus instance in the same process.
func WithID(id string) Option {
	return func(b *EventBus) { b.id = id }
}

// NewEventBus builds an EventBus. Call Start before Post or Register.
func NewEventBus(opts ...Option) *EventBus {
	b := &EventBus{
		id:         uuid.NewString(),
		logger:     rvlog.Noop(),
		dispatcher: PerGoroutineQueuedDispatcher(),
		registry:   NewSubscriberRegistry(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.exceptionHandler == nil {
		b.exceptionHandler = b.logExceptionHandler
	}
	return b
}

// ID returns this bus's generated identifier.
func (b *EventBus) ID() string { return b.id }

// Start marks the bus ready to accept Post and Register calls.
// Idempotent.
func (b *EventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true
	b.logger.Info("eventbus: started", "bus", b.id)
	return nil
}

// Stop marks the bus stopped. It does not cancel in-flight dispatches
// (Post calls already in progress run to completion); it only rejects
// new Post/Register calls afterward. Idempotent.
func (b *EventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	b.logger.Info("eventbus: stopped", "bus", b.id)
	return nil
}

func (b *EventBus) isStarted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.started
}

// Register discovers listener's subscriber methods via
// Listener.Subscriptions() and adds each as a live subscription. It
// fails if listener declares no subscriber methods or any declared
// EventType is nil.
func (b *EventBus) Register(listener Listener) error {
	if listener == nil {
		return ErrNilListener
	}
	if !b.isStarted() {
		return ErrEventBusNotStarted
	}
	specs := listener.Subscriptions()
	if len(specs) == 0 {
		return ErrNoSubscriberMethods
	}
	subs := make([]*Subscriber, len(specs))
	for i, spec := range specs {
		if spec.EventType == nil {
			return ErrInvalidEventType
		}
		subs[i] = newSubscriber(listener, spec)
	}
	b.registry.Register(listener, subs)
	b.logger.Debug("eventbus: registered", "bus", b.id, "subscribers", len(subs))
	return nil
}

// Unregister removes every subscription listener previously registered
// via Register. It returns ErrListenerNotRegistered if listener has no
// live registration.
func (b *EventBus) Unregister(listener Listener) error {
	if listener == nil {
		return ErrNilListener
	}
	if _, ok := b.registry.Unregister(listener); !ok {
		return ErrListenerNotRegistered
	}
	b.logger.Debug("eventbus: unregistered", "bus", b.id)
	return nil
}

// Post delivers event to every matching subscriber via the configured
// Dispatcher. If nothing matches and event is not itself a DeadEvent,
// a DeadEvent wrapping it is posted instead, so a catch-all DeadEvent
// subscriber can observe what nobody else wanted. Post never returns a
// subscriber's error; those go to the SubscriberExceptionHandler.
func (b *EventBus) Post(ctx context.Context, event Event) error {
	if event == nil {
		return ErrNilEvent
	}
	if !b.isStarted() {
		return ErrEventBusNotStarted
	}
	atomic.AddUint64(&b.postedCount, 1)

	subs := b.registry.MatchFor(event)
	if len(subs) == 0 {
		if _, isDead := event.(DeadEvent); !isDead {
			atomic.AddUint64(&b.deadCount, 1)
			dead := DeadEvent{Source: b.id, Event: event, PostedAt: time.Now()}
			b.observeAsync("eventbus.dead_event", map[string]any{"eventType": reflect.TypeOf(event).String()})
			return b.Post(ctx, dead)
		}
		return nil
	}

	b.observeAsync("eventbus.posted", map[string]any{
		"eventType":   reflect.TypeOf(event).String(),
		"subscribers": len(subs),
	})

	b.dispatcher.dispatch(ctx, event, subs, b.deliver)
	return nil
}

func (b *EventBus) deliver(ctx context.Context, sub *Subscriber, event Event) {
	sub.executor.Execute(func() {
		if err := sub.invoke(ctx, event); err != nil {
			atomic.AddUint64(&b.errorCount, 1)
			b.exceptionHandler(err, ExceptionContext{
				Bus:        b,
				Event:      event,
				EventType:  reflect.TypeOf(event),
				Subscriber: sub,
			})
			return
		}
		atomic.AddUint64(&b.deliveredCount, 1)
	})
}

func (b *EventBus) logExceptionHandler(err error, ctx ExceptionContext) {
	b.logger.Error("eventbus: subscriber error",
		"bus", b.id, "subscriber", ctx.Subscriber.ID(), "eventType", ctx.EventType, "error", err)
}

func (b *EventBus) observeAsync(eventType string, data map[string]any) {
	if b.observer != nil {
		b.observer.observe(eventType, data)
	}
}

// Stats is a point-in-time snapshot for observability.
type Stats struct {
	Posted    uint64
	Delivered uint64
	Dead      uint64
	Errors    uint64
}

// Stats returns a snapshot of cumulative bus counters.
func (b *EventBus) Stats() Stats {
	return Stats{
		Posted:    atomic.LoadUint64(&b.postedCount),
		Delivered: atomic.LoadUint64(&b.deliveredCount),
		Dead:      atomic.LoadUint64(&b.deadCount),
		Errors:    atomic.LoadUint64(&b.errorCount),
	}
}
