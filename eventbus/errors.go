package eventbus

import "errors"

var (
	// ErrEventBusNotStarted is returned by Post and Register when the
	// bus has not had Start called on it yet.
	ErrEventBusNotStarted = errors.New("eventbus: bus not started")

	// ErrEventBusShutdownTimeout reports that in-flight dispatches did
	// not drain before a shutdown deadline. Stop does not wait for
	// in-flight dispatches and never returns it.
	ErrEventBusShutdownTimeout = errors.New("eventbus: shutdown timed out")

	// ErrNilListener is returned by Register/Unregister for a nil
	// listener.
	ErrNilListener = errors.New("eventbus: listener is nil")

	// ErrNoSubscriberMethods is returned by Register when a listener's
	// Subscriptions() returns no handlers.
	ErrNoSubscriberMethods = errors.New("eventbus: listener declares no subscriber methods")

	// ErrListenerNotRegistered is returned by Unregister for a listener
	// that was never (or no longer) registered.
	ErrListenerNotRegistered = errors.New("eventbus: listener not registered")

	// ErrInvalidEventType is returned by Register when a HandlerSpec's
	// EventType is nil.
	ErrInvalidEventType = errors.New("eventbus: handler spec has no event type")

	// ErrNilEvent is returned by Post for a nil event.
	ErrNilEvent = errors.New("eventbus: event is nil")
)
