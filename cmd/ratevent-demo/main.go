// Command ratevent-demo wires ratelimit and eventbus together
// behind a small chi HTTP server: a per-client SmoothBursty limiter
// gates requests, throttle/audit events are posted to an EventBus,
// a cron job periodically logs cumulative stats, and fsnotify
// hot-reloads the rate limit's config file without a restart.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/ratevent/eventbus"
	"github.com/GoCodeAlone/ratevent/ratelimit"
)

// slog.Logger already satisfies rvlog.Logger's Debug/Info/Warn/Error
// shape, so the demo's own logger doubles as the structured logger
// every package in this module accepts.

// throttledEvent is posted every time a request is served.
type throttledEvent struct {
	Client string
	Wait   time.Duration
}

// rejectedEvent is posted whenever a client is over its limit.
type rejectedEvent struct {
	Client string
}

// statsListener subscribes to both event types and keeps running
// counters a cron job periodically logs.
type statsListener struct {
	mu        sync.Mutex
	served    uint64
	rejected  uint64
	waitTotal time.Duration
}

func (s *statsListener) Subscriptions() []eventbus.HandlerSpec {
	return []eventbus.HandlerSpec{
		{
			EventType: reflect.TypeOf(throttledEvent{}),
			Handler: func(ctx context.Context, event eventbus.Event) error {
				e := event.(throttledEvent)
				s.mu.Lock()
				defer s.mu.Unlock()
				s.served++
				s.waitTotal += e.Wait
				return nil
			},
		},
		{
			EventType: reflect.TypeOf(rejectedEvent{}),
			Handler: func(ctx context.Context, event eventbus.Event) error {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.rejected++
				return nil
			},
		},
	}
}

func (s *statsListener) logSummary() {
	s.mu.Lock()
	served, rejected, waitTotal := s.served, s.rejected, s.waitTotal
	s.mu.Unlock()
	slog.Info("ratevent-demo: periodic stats", "served", served, "rejected", rejected, "totalWait", waitTotal)
}

// clientLimiters hands out one SmoothBursty limiter per client key,
// rebuilt from the latest config whenever it changes.
type clientLimiters struct {
	mu       sync.Mutex
	cfg      ratelimit.Config
	logger   *slog.Logger
	byClient map[string]*ratelimit.RateLimiter
}

func newClientLimiters(cfg ratelimit.Config, logger *slog.Logger) *clientLimiters {
	return &clientLimiters{cfg: cfg, logger: logger, byClient: make(map[string]*ratelimit.RateLimiter)}
}

func (c *clientLimiters) forClient(client string) (*ratelimit.RateLimiter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rl, ok := c.byClient[client]; ok {
		return rl, nil
	}
	rl, err := c.cfg.Build(ratelimit.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	c.byClient[client] = rl
	return rl, nil
}

// reload updates the config new requests' limiters will be built from.
// Existing limiters keep their old rate until evicted; this mirrors
// the demo's intentionally simple "new config applies to new clients"
// semantics rather than rewriting every live limiter's rate in place.
func (c *clientLimiters) reload(cfg ratelimit.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.byClient = make(map[string]*ratelimit.RateLimiter)
}

func throttleMiddleware(limiters *clientLimiters, bus *eventbus.EventBus) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := r.RemoteAddr
			rl, err := limiters.forClient(client)
			if err != nil {
				http.Error(w, "limiter unavailable", http.StatusInternalServerError)
				return
			}

			wait, ok, err := rl.TryAcquire(r.Context(), 1, 50*time.Millisecond)
			if err != nil {
				http.Error(w, "limiter error", http.StatusInternalServerError)
				return
			}
			if !ok {
				_ = bus.Post(r.Context(), rejectedEvent{Client: client})
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}

			_ = bus.Post(r.Context(), throttledEvent{Client: client, Wait: wait})
			next.ServeHTTP(w, r)
		})
	}
}

func watchConfig(path string, limiters *clientLimiters) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := loadRateLimitConfig(path)
				if err != nil {
					slog.Warn("ratevent-demo: config reload failed", "path", path, "error", err)
					continue
				}
				limiters.reload(cfg)
				slog.Info("ratevent-demo: config reloaded", "path", path, "rate", cfg.Rate)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("ratevent-demo: config watch error", "error", err)
			}
		}
	}()
	return watcher, nil
}

func loadRateLimitConfig(path string) (ratelimit.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return ratelimit.Config{}, err
	}
	defer f.Close()
	var cfg ratelimit.Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return ratelimit.Config{}, err
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to a JSON ratelimit.Config file; if empty, a 5 req/s, 1s burst default is used")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	cfg := ratelimit.Config{Rate: 5, MaxBurstSeconds: 1}
	if *configPath != "" {
		loaded, err := loadRateLimitConfig(*configPath)
		if err != nil {
			slog.Error("ratevent-demo: failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := slog.Default()
	limiters := newClientLimiters(cfg, logger)
	bus := eventbus.NewEventBus(eventbus.WithLogger(logger))
	stats := &statsListener{}

	ctx := context.Background()
	if err := bus.Start(ctx); err != nil {
		slog.Error("ratevent-demo: eventbus start failed", "error", err)
		os.Exit(1)
	}
	if err := bus.Register(stats); err != nil {
		slog.Error("ratevent-demo: stats registration failed", "error", err)
		os.Exit(1)
	}

	cronScheduler := cron.New()
	if _, err := cronScheduler.AddFunc("@every 30s", stats.logSummary); err != nil {
		slog.Error("ratevent-demo: failed to schedule stats job", "error", err)
		os.Exit(1)
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	if *configPath != "" {
		watcher, err := watchConfig(*configPath, limiters)
		if err != nil {
			slog.Warn("ratevent-demo: config watch unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(throttleMiddleware(limiters, bus))
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: *addr, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ratevent-demo: server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	_ = bus.Stop(shutdownCtx)
}
