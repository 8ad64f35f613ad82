package eventstream

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Observer consumes events of a subscribed type.
type Observer interface {
	OnEvent(ctx context.Context, event *Event)
}

// ObserverFunc adapts a function to the Observer interface. Subscribe a
// pointer to it so the same value can later be unsubscribed.
type ObserverFunc func(ctx context.Context, event *Event)

func (f *ObserverFunc) OnEvent(ctx context.Context, event *Event) {
	(*f)(ctx, event)
}

// Bus is the in-process typed callback registry. Delivery order among
// observers is unspecified; every observer receives the same event, and a
// panicking observer does not prevent delivery to the rest.
//
// When a Publisher is configured, every published event is also mirrored to
// it (best effort; mirror failures are logged, not propagated).
type Bus struct {
	logger *zap.Logger
	mirror Publisher

	mu        sync.RWMutex
	observers map[string][]Observer
}

// NewBus creates a bus. The mirror publisher is optional.
func NewBus(mirror Publisher, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bus{
		logger:    logger,
		mirror:    mirror,
		observers: make(map[string][]Observer),
	}
}

// Subscribe registers an observer for one event type. Observers are
// identified by interface equality, so use pointer types.
func (b *Bus) Subscribe(eventType string, obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.observers[eventType] = append(b.observers[eventType], obs)
}

// Unsubscribe removes an observer from one event type. Unsubscribing an
// observer that was never registered is a no-op.
func (b *Bus) Unsubscribe(eventType string, obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.observers[eventType]
	for i, s := range subs {
		if s == obs {
			b.observers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish fans an event out to every observer of its type, then mirrors it
// to the configured publisher.
func (b *Bus) Publish(ctx context.Context, event *Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	subs := make([]Observer, len(b.observers[event.EventType]))
	copy(subs, b.observers[event.EventType])
	b.mu.RUnlock()

	for _, obs := range subs {
		b.deliver(ctx, obs, event)
	}

	if b.mirror != nil {
		if err := b.mirror.Publish(ctx, event); err != nil {
			b.logger.Warn("event mirror publish failed",
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
		}
	}
}

// deliver invokes one observer, isolating panics so a faulty observer
// cannot break fan-out.
func (b *Bus) deliver(ctx context.Context, obs Observer, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("observer panicked",
				zap.String("event_type", event.EventType),
				zap.Any("panic", r),
			)
		}
	}()

	obs.OnEvent(ctx, event)
}
