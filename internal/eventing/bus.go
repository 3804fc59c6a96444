package eventing

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"
)

// Handler consumes one validated payload.
type Handler func(ctx context.Context, payload Payload) error

// Bus is an in-process event bus over a closed type registry. Emit never
// panics and never propagates subscriber errors to the caller.
type Bus struct {
	registry *Registry
	logger   *log.Logger
	source   string

	mu       sync.RWMutex
	handlers map[string][]Handler

	now func() time.Time
	rng *rand.Rand
}

// NewBus constructs a bus over the given registry.
func NewBus(registry *Registry, source string, logger *log.Logger) *Bus {
	return &Bus{
		registry: registry,
		logger:   logger,
		source:   source,
		handlers: make(map[string][]Handler),
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Subscribe registers a handler for an event type. Unknown types are
// rejected so dead subscriptions surface at wiring time.
func (b *Bus) Subscribe(eventType string, handler Handler) bool {
	if b == nil || handler == nil || !b.registry.Known(eventType) {
		return false
	}
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
	return true
}

// Emit validates and dispatches one event. It returns false when the type is
// outside the registry or the payload fails its schema; the event is dropped
// and the caller proceeds.
func (b *Bus) Emit(ctx context.Context, eventType string, data any, source string) bool {
	if b == nil {
		return false
	}
	if !b.registry.Known(eventType) {
		b.logf("event dropped: unknown type %q", eventType)
		return false
	}

	now := b.now()
	if source == "" {
		source = b.source
	}
	payload := Payload{
		Type:      eventType,
		Timestamp: now,
		Data:      wrapData(data),
		Metadata:  Metadata{Source: source, EventID: NewEventID(now, b.rng)},
	}

	if schema := b.registry.SchemaFor(eventType); schema != nil {
		if err := schema.Validate(payload.Data); err != nil {
			b.logf("event dropped: type=%s event_id=%s err=%v", eventType, payload.Metadata.EventID, err)
			return false
		}
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := b.safeCall(ctx, handler, payload); err != nil {
			b.logf("event handler failed: type=%s event_id=%s err=%v", eventType, payload.Metadata.EventID, err)
		}
	}
	return true
}

// safeCall shields Emit from subscriber panics.
func (b *Bus) safeCall(ctx context.Context, handler Handler, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return handler(ctx, payload)
}

type panicError struct{ value any }

func (p panicError) Error() string {
	return "eventing: handler panic"
}

func (b *Bus) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}
