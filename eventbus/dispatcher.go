package eventbus

import (
	"context"
	"sync"
)

// deliverFunc hands one subscriber's handler call for one event to
// that subscriber's Executor and reports any error to the bus's
// exception handler. Dispatchers never
// see subscriber errors directly — deliverFunc already swallowed and
// reported them — so a dispatcher only needs to decide ordering.
type deliverFunc func(ctx context.Context, sub *Subscriber, event Event)

// Dispatcher decides how a batch of matched subscribers is served for
// one posted event — not whether they're served, which is the
// registry's job. The dispatch method is unexported: Dispatcher is a
// closed set of three strategies, constructed only through the
// ImmediateDispatcher, PerGoroutineQueuedDispatcher and
// LegacyAsyncDispatcher functions below.
type Dispatcher interface {
	dispatch(ctx context.Context, event Event, subs []*Subscriber, deliver deliverFunc)
}

// ---- immediate ----

type immediateDispatcher struct{}

// ImmediateDispatcher serves each subscriber synchronously and
// recursively: with subscribers on the default InlineExecutor, a
// handler that itself calls Post sees its nested event fully delivered
// before control returns to it. This is the simplest
// strategy and the one most exposed to stack growth under cyclic
// posting.
func ImmediateDispatcher() Dispatcher { return immediateDispatcher{} }

func (immediateDispatcher) dispatch(ctx context.Context, event Event, subs []*Subscriber, deliver deliverFunc) {
	for _, sub := range subs {
		deliver(ctx, sub, event)
	}
}

// ---- per-goroutine queued ----

type perGoroutineQueuedDispatcher struct{}

// PerGoroutineQueuedDispatcher serves subscribers in the order their
// events were posted along one logical call chain, queuing any event
// posted reentrantly from inside a handler rather than recursing into
// it immediately. Go has no thread-locals, so the per-chain dispatch
// state rides in ctx instead of a goroutine-local slot; it's only
// visible to calls that thread the same ctx through to nested Post
// calls, which is the normal case since handlers receive the ctx they
// were invoked with.
func PerGoroutineQueuedDispatcher() Dispatcher { return perGoroutineQueuedDispatcher{} }

type queuedDelivery struct {
	event Event
	subs  []*Subscriber
}

type dispatchState struct {
	mu          sync.Mutex
	queue       []queuedDelivery
	dispatching bool
}

type dispatchStateKey struct{}

func stateFromContext(ctx context.Context) (*dispatchState, context.Context) {
	if st, ok := ctx.Value(dispatchStateKey{}).(*dispatchState); ok {
		return st, ctx
	}
	st := &dispatchState{}
	return st, context.WithValue(ctx, dispatchStateKey{}, st)
}

func (perGoroutineQueuedDispatcher) dispatch(ctx context.Context, event Event, subs []*Subscriber, deliver deliverFunc) {
	st, ctx := stateFromContext(ctx)

	st.mu.Lock()
	st.queue = append(st.queue, queuedDelivery{event: event, subs: subs})
	if st.dispatching {
		st.mu.Unlock()
		return // an outer dispatch call on this chain owns draining
	}
	st.dispatching = true
	st.mu.Unlock()

	defer func() {
		st.mu.Lock()
		st.dispatching = false
		st.mu.Unlock()
	}()

	for {
		st.mu.Lock()
		if len(st.queue) == 0 {
			st.mu.Unlock()
			return
		}
		next := st.queue[0]
		st.queue = st.queue[1:]
		st.mu.Unlock()

		for _, sub := range next.subs {
			deliver(ctx, sub, next.event)
		}
	}
}

// ---- legacy async ----

type legacyAsyncDispatcher struct {
	executor Executor

	mu    sync.Mutex
	queue []queuedSingle
}

type queuedSingle struct {
	event Event
	sub   *Subscriber
}

// LegacyAsyncDispatcher serves subscribers off one shared, mutex-guarded
// queue drained by executor: every Post call from every goroutine
// enqueues into the same queue, so delivery order across concurrent
// posters is whichever drain loop happens to run first, not the
// posting order of any one chain. This is weaker than
// PerGoroutineQueuedDispatcher's per-chain ordering, but matches how
// a single shared worker pool naturally interleaves work. executor
// defaults to GoroutineExecutor, an unbounded background executor.
func LegacyAsyncDispatcher(executor Executor) Dispatcher {
	if executor == nil {
		executor = GoroutineExecutor{}
	}
	return &legacyAsyncDispatcher{executor: executor}
}

func (d *legacyAsyncDispatcher) dispatch(ctx context.Context, event Event, subs []*Subscriber, deliver deliverFunc) {
	d.mu.Lock()
	for _, sub := range subs {
		d.queue = append(d.queue, queuedSingle{event: event, sub: sub})
	}
	d.mu.Unlock()

	d.executor.Execute(func() { d.drain(ctx, deliver) })
}

func (d *legacyAsyncDispatcher) drain(ctx context.Context, deliver deliverFunc) {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		deliver(ctx, next.sub, next.event)
	}
}
