// Package dispatch drains the delivery queue and hands authorized
// payloads to registered application handlers.
//
// Handlers are registered per GitHub event type, with an optional default
// handler for everything else. Failed handlers are retried with
// exponential backoff up to the delivery's max attempts, after which the
// delivery is marked dead and archived.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hookgate/internal/events"
	"hookgate/internal/log"
	"hookgate/internal/queue"
)

// Handler processes one authorized delivery. The payload inside the
// Delivery is the byte-exact body the signature was verified over.
type Handler interface {
	Handle(ctx context.Context, d queue.Delivery) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, d queue.Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d queue.Delivery) error {
	return f(ctx, d)
}

// DeliverySource is the queue surface the dispatcher consumes.
type DeliverySource interface {
	Dequeue(ctx context.Context) (*queue.Delivery, error)
	Complete(ctx context.Context, deliveryID string) error
	Fail(ctx context.Context, deliveryID string, cause string, backoffBase time.Duration) error
}

// EventPublisher receives dispatch lifecycle notifications.
type EventPublisher interface {
	Publish(eventType string, data any)
}

// Config holds dispatcher settings.
type Config struct {
	Workers      int
	PollInterval time.Duration
	BackoffBase  time.Duration
}

// Dispatcher dequeues deliveries and invokes the handler registered for
// their event type.
type Dispatcher struct {
	source DeliverySource
	events EventPublisher
	cfg    Config
	logger *slog.Logger

	mu             sync.RWMutex
	handlers       map[string]Handler
	defaultHandler Handler
}

// New creates a Dispatcher.
func New(source DeliverySource, events EventPublisher, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Dispatcher{
		source:   source,
		events:   events,
		cfg:      cfg,
		logger:   log.WithComponent("dispatch"),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a GitHub event type (e.g. "push").
func (d *Dispatcher) Register(event string, h Handler) {
	d.mu.Lock()
	d.handlers[event] = h
	d.mu.Unlock()
}

// RegisterDefault binds the fallback handler for unmatched event types.
func (d *Dispatcher) RegisterDefault(h Handler) {
	d.mu.Lock()
	d.defaultHandler = h
	d.mu.Unlock()
}

// Start runs the dispatch workers until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "workers", d.cfg.Workers)
	defer d.logger.Info("dispatch loop stopped")

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) worker(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.processNext(ctx); err != nil {
				d.logger.Error("failed to process delivery", "error", err)
				// Keep the loop alive; individual failures must not
				// stop dispatch.
			}
		}
	}
}

// processNext dequeues and handles one delivery, if any is due.
func (d *Dispatcher) processNext(ctx context.Context) error {
	delivery, err := d.source.Dequeue(ctx)
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	if delivery == nil {
		return nil
	}

	d.dispatch(ctx, delivery)
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, delivery *queue.Delivery) {
	logger := log.WithDelivery(delivery.ID).With("event", delivery.Event, "attempt", delivery.Attempt)

	handler := d.handlerFor(delivery.Event)
	if handler == nil {
		// Nothing registered: treat as delivered rather than retrying
		// forever. The payload stays archived in the log.
		logger.Warn("no handler registered for event")
		if err := d.source.Complete(ctx, delivery.ID); err != nil {
			logger.Error("failed to archive unhandled delivery", "error", err)
		}
		return
	}

	if err := handler.Handle(ctx, *delivery); err != nil {
		logger.Warn("delivery handler failed", "error", err)
		d.events.Publish(events.TypeDeliveryFailed, map[string]any{
			"delivery_id": delivery.ID,
			"event":       delivery.Event,
			"attempt":     delivery.Attempt,
		})
		if ferr := d.source.Fail(ctx, delivery.ID, err.Error(), d.cfg.BackoffBase); ferr != nil {
			logger.Error("failed to record delivery failure", "error", ferr)
		}
		return
	}

	logger.Info("delivery dispatched")
	d.events.Publish(events.TypeDeliveryDispatched, map[string]any{
		"delivery_id": delivery.ID,
		"event":       delivery.Event,
	})
	if err := d.source.Complete(ctx, delivery.ID); err != nil {
		logger.Error("failed to complete delivery", "error", err)
	}
}

func (d *Dispatcher) handlerFor(event string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.handlers[event]; ok {
		return h
	}
	return d.defaultHandler
}
