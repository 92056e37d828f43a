package eventbus

import (
	"fmt"

	"github.com/GoCodeAlone/ratevent/internal/configfeed"
)

// Config is a file-loadable seed for an EventBus: one struct,
// tag-annotated fields, resolved by Build.
type Config struct {
	// Dispatcher selects the dispatch strategy: "immediate",
	// "per-goroutine" (default), or "legacy-async".
	Dispatcher string `json:"dispatcher" yaml:"dispatcher" toml:"dispatcher"`

	// WorkerPoolSize, when > 0 and Dispatcher is "legacy-async",
	// selects a bounded PoolExecutor of this many workers instead of
	// the default GoroutineExecutor.
	WorkerPoolSize int `json:"workerPoolSize" yaml:"workerPoolSize" toml:"workerPoolSize"`

	// WorkerQueueDepth sizes the PoolExecutor's task queue.
	WorkerQueueDepth int `json:"workerQueueDepth" yaml:"workerQueueDepth" toml:"workerQueueDepth"`

	// CloudEventSource is decoded from the file but Build does not read
	// it: Build attaches no CloudEventObserver and tags no CloudEvent.
	// An observer is attached only through WithCloudEventObserver,
	// since it needs a live client, and takes its source from
	// NewCloudEventObserver.
	CloudEventSource string `json:"cloudEventSource" yaml:"cloudEventSource" toml:"cloudEventSource"`
}

// FromYAML loads a Config from a YAML file and builds the EventBus it
// describes.
func FromYAML(path string, opts ...Option) (*EventBus, error) {
	var cfg Config
	if err := configfeed.Load(path, &cfg); err != nil {
		return nil, err
	}
	return cfg.Build(opts...)
}

// FromTOML loads a Config from a TOML file and builds the EventBus it
// describes.
func FromTOML(path string, opts ...Option) (*EventBus, error) {
	var cfg Config
	if err := configfeed.Load(path, &cfg); err != nil {
		return nil, err
	}
	return cfg.Build(opts...)
}

// Build constructs the EventBus the config describes, applying opts
// after the config-derived dispatcher so callers can still override
// individual pieces (e.g. WithLogger) post-hoc.
func (c Config) Build(opts ...Option) (*EventBus, error) {
	var dispatcher Dispatcher
	switch c.Dispatcher {
	case "", "per-goroutine":
		dispatcher = PerGoroutineQueuedDispatcher()
	case "immediate":
		dispatcher = ImmediateDispatcher()
	case "legacy-async":
		var executor Executor
		if c.WorkerPoolSize > 0 {
			pool := NewPoolExecutor(c.WorkerPoolSize, c.WorkerQueueDepth)
			pool.Start(c.WorkerPoolSize)
			executor = pool
		}
		dispatcher = LegacyAsyncDispatcher(executor)
	default:
		return nil, fmt.Errorf("eventbus: unknown dispatcher %q", c.Dispatcher)
	}

	allOpts := append([]Option{WithDispatcher(dispatcher)}, opts...)
	return NewEventBus(allOpts...), nil
}
