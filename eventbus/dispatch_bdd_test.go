package eventbus_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/cucumber/godog"

	"github.com/GoCodeAlone/ratevent/eventbus"
)

// dispatchBDDContext holds the scenario-scoped state for the dispatch
// feature.
type dispatchBDDContext struct {
	mu sync.Mutex

	bus      *eventbus.EventBus
	received []eventbus.Event
	dead     []eventbus.DeadEvent
}

func (c *dispatchBDDContext) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bus = nil
	c.received = nil
	c.dead = nil
}

func (c *dispatchBDDContext) record(event eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, event)
}

func (c *dispatchBDDContext) recordDead(event eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = append(c.dead, event.(eventbus.DeadEvent))
}

func (c *dispatchBDDContext) iHaveAStartedEventBus() error {
	c.reset()
	c.bus = eventbus.NewEventBus()
	return c.bus.Start(context.Background())
}

func (c *dispatchBDDContext) iRegisterAListenerSubscribedToTheBaseEventType() error {
	listener := &funcListener{specs: []eventbus.HandlerSpec{{
		EventType: reflect.TypeOf(baseEvent{}),
		Handler: func(ctx context.Context, event eventbus.Event) error {
			c.record(event)
			return nil
		},
	}}}
	return c.bus.Register(listener)
}

func (c *dispatchBDDContext) iPostAChildEventThatEmbedsTheBaseEvent() error {
	return c.bus.Post(context.Background(), childEvent{baseEvent: baseEvent{ID: "bdd"}, Extra: "x"})
}

func (c *dispatchBDDContext) iRegisterAListenerSubscribedToTheNamedInterface() error {
	listener := &funcListener{specs: []eventbus.HandlerSpec{{
		EventType: reflect.TypeOf((*named)(nil)).Elem(),
		Handler: func(ctx context.Context, event eventbus.Event) error {
			c.record(event)
			return nil
		},
	}}}
	return c.bus.Register(listener)
}

func (c *dispatchBDDContext) iPostAnEventImplementingThatInterface() error {
	return c.bus.Post(context.Background(), namedEvent{N: "bdd"})
}

func (c *dispatchBDDContext) iRegisterAListenerSubscribedToDeadEvents() error {
	listener := &funcListener{specs: []eventbus.HandlerSpec{{
		EventType: reflect.TypeOf(eventbus.DeadEvent{}),
		Handler: func(ctx context.Context, event eventbus.Event) error {
			c.recordDead(event)
			return nil
		},
	}}}
	return c.bus.Register(listener)
}

func (c *dispatchBDDContext) iPostAnEventNothingElseSubscribesTo() error {
	return c.bus.Post(context.Background(), eventA{})
}

func (c *dispatchBDDContext) iRegisterAListenerWhoseHandlerAlwaysFails() error {
	listener := &funcListener{specs: []eventbus.HandlerSpec{{
		EventType: reflect.TypeOf(eventA{}),
		Handler: func(ctx context.Context, event eventbus.Event) error {
			return errors.New("bdd induced failure")
		},
	}}}
	return c.bus.Register(listener)
}

func (c *dispatchBDDContext) iRegisterAListenerWhoseHandlerAlwaysSucceeds() error {
	listener := &funcListener{specs: []eventbus.HandlerSpec{{
		EventType: reflect.TypeOf(eventA{}),
		Handler: func(ctx context.Context, event eventbus.Event) error {
			c.record(event)
			return nil
		},
	}}}
	return c.bus.Register(listener)
}

func (c *dispatchBDDContext) iPostAnEventBothListenersSubscribeTo() error {
	return c.bus.Post(context.Background(), eventA{})
}

func (c *dispatchBDDContext) theListenerShouldHaveReceivedEvents(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.received) != n {
		return fmt.Errorf("expected %d received events, got %d", n, len(c.received))
	}
	return nil
}

func (c *dispatchBDDContext) theListenerShouldHaveReceivedDeadEvents(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.dead) != n {
		return fmt.Errorf("expected %d dead events, got %d", n, len(c.dead))
	}
	return nil
}

func (c *dispatchBDDContext) theSucceedingListenerShouldHaveReceivedEvents(n int) error {
	return c.theListenerShouldHaveReceivedEvents(n)
}

func (c *dispatchBDDContext) theBusShouldReportSubscriberErrors(n int) error {
	if got := c.bus.Stats().Errors; got != uint64(n) {
		return fmt.Errorf("expected %d subscriber errors, got %d", n, got)
	}
	return nil
}

func TestDispatchBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			c := &dispatchBDDContext{}

			sc.Given(`^I have a started event bus$`, c.iHaveAStartedEventBus)
			sc.When(`^I register a listener subscribed to the base event type$`, c.iRegisterAListenerSubscribedToTheBaseEventType)
			sc.When(`^I post a child event that embeds the base event$`, c.iPostAChildEventThatEmbedsTheBaseEvent)
			sc.When(`^I register a listener subscribed to the named interface$`, c.iRegisterAListenerSubscribedToTheNamedInterface)
			sc.When(`^I post an event implementing that interface$`, c.iPostAnEventImplementingThatInterface)
			sc.When(`^I register a listener subscribed to dead events$`, c.iRegisterAListenerSubscribedToDeadEvents)
			sc.When(`^I post an event nothing else subscribes to$`, c.iPostAnEventNothingElseSubscribesTo)
			sc.When(`^I register a listener whose handler always fails$`, c.iRegisterAListenerWhoseHandlerAlwaysFails)
			sc.When(`^I register a listener whose handler always succeeds$`, c.iRegisterAListenerWhoseHandlerAlwaysSucceeds)
			sc.When(`^I post an event both listeners subscribe to$`, c.iPostAnEventBothListenersSubscribeTo)
			sc.Then(`^the listener should have received (\d+) event$`, c.theListenerShouldHaveReceivedEvents)
			sc.Then(`^the listener should have received (\d+) dead event$`, c.theListenerShouldHaveReceivedDeadEvents)
			sc.Then(`^the succeeding listener should have received (\d+) event$`, c.theSucceedingListenerShouldHaveReceivedEvents)
			sc.Then(`^the bus should report (\d+) subscriber error$`, c.theBusShouldReportSubscriberErrors)
		},
		Options: &godog.Options{
			Format: "pretty",
			Paths:  []string{"features"},
			Strict: true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
