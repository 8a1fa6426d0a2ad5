package event

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes one published event. An error is logged by the bus and
// does not affect other handlers.
type Handler func(RiskEvent) error

type subscriber struct {
	seq int
	fn  Handler
}

// Bus is an in-process publish/subscribe dispatcher keyed by event type.
// Handlers for the same type run in registration order; a failing handler
// never prevents the remaining handlers from running.
type Bus struct {
	mu     sync.Mutex
	subs   map[Type][]subscriber
	nextID int
	log    *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs: make(map[Type][]subscriber),
		log:  log,
	}
}

// Subscribe registers a handler for one event type and returns an
// unsubscribe function. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(t Type, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	seq := b.nextID
	b.subs[t] = append(b.subs[t], subscriber{seq: seq, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[t]
		for i, s := range list {
			if s.seq == seq {
				b.subs[t] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every handler registered for its type.
// A handler error or panic is logged and isolated.
func (b *Bus) Publish(e RiskEvent) {
	b.mu.Lock()
	list := make([]subscriber, len(b.subs[e.Type]))
	copy(list, b.subs[e.Type])
	b.mu.Unlock()

	for _, s := range list {
		if err := b.call(s, e); err != nil {
			b.log.Warn("event handler failed",
				zap.String("event_type", string(e.Type)),
				zap.Error(err))
		}
	}
}

func (b *Bus) call(s subscriber, e RiskEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.fn(e)
}
