// Package bus provides the in-process event bus connecting transports,
// the pipeline, the scheduler and the webhook server. Each subscriber
// gets its own bounded queue and a serial worker goroutine, so slow
// handlers never block publishers and per-subscriber ordering holds.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize is the per-subscriber queue capacity.
const DefaultQueueSize = 256

func newEvent(t EventType) Event {
	return Event{
		Type:      t,
		ID:        uuid.NewString()[:8],
		Timestamp: time.Now().UTC(),
	}
}

type subscriber struct {
	name    string
	handler Handler
	queue   chan Event
}

// Bus is a typed publish/subscribe event bus.
type Bus struct {
	mu        sync.Mutex
	subs      map[EventType][]*subscriber
	queueSize int
	started   bool
	stopped   bool
	wg        sync.WaitGroup
}

// New creates a bus with the default per-subscriber queue size.
func New() *Bus {
	return NewWithQueueSize(DefaultQueueSize)
}

// NewWithQueueSize creates a bus with the given per-subscriber queue size.
func NewWithQueueSize(size int) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Bus{
		subs:      make(map[EventType][]*subscriber),
		queueSize: size,
	}
}

// Subscribe registers a named handler for an event type. Must be called
// before Start; late subscriptions are rejected.
func (b *Bus) Subscribe(t EventType, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		slog.Error("bus subscription after start ignored", "type", t, "subscriber", name)
		return
	}
	b.subs[t] = append(b.subs[t], &subscriber{
		name:    name,
		handler: h,
		queue:   make(chan Event, b.queueSize),
	})
}

// Publish enqueues an event for every subscriber of its type. Never
// blocks: when a subscriber's queue is full the event is dropped for
// that subscriber with a warning.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	subs := b.subs[e.Type]
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.queue <- e:
		default:
			slog.Warn("bus queue full, dropping event",
				"type", e.Type, "subscriber", s.name, "event_id", e.ID)
		}
	}
}

// Start launches one worker goroutine per subscriber.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true

	n := 0
	for _, subs := range b.subs {
		for _, s := range subs {
			n++
			b.wg.Add(1)
			go b.run(s)
		}
	}
	slog.Info("event bus started", "subscribers", n)
}

func (b *Bus) run(s *subscriber) {
	defer b.wg.Done()
	for e := range s.queue {
		if err := s.handler(e); err != nil {
			slog.Error("bus handler error",
				"subscriber", s.name, "type", e.Type, "event_id", e.ID, "error", err)
		}
	}
}

// Stop closes all queues and waits for workers to drain them, up to the
// context deadline (callers typically pass a 5s timeout).
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.queue)
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		slog.Warn("event bus stop timed out", "error", ctx.Err())
		return ctx.Err()
	}
}
