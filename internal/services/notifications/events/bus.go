package events

import (
	"context"
	"errors"
	"sync"

	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/sirupsen/logrus"
)

// ErrBusFull indicates the bus buffer is saturated and the event was dropped.
var ErrBusFull = errors.New("event bus is full")

// ErrBusClosed indicates the bus no longer accepts events.
var ErrBusClosed = errors.New("event bus is closed")

// Handler consumes task events.
type Handler interface {
	HandleTaskEvent(ctx context.Context, event TaskEvent)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event TaskEvent)

// HandleTaskEvent calls f.
func (f HandlerFunc) HandleTaskEvent(ctx context.Context, event TaskEvent) { f(ctx, event) }

// Bus is a bounded in-process queue. Publish never blocks so a slow
// notification pipeline cannot stall the task write that emitted the event.
type Bus struct {
	mu     sync.RWMutex
	queue  chan TaskEvent
	closed bool
	log    logrus.FieldLogger
}

// NewBus creates a bus holding up to capacity pending events.
func NewBus(capacity int, log logrus.FieldLogger) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Bus{queue: make(chan TaskEvent, capacity), log: log}
}

// Publish enqueues event without blocking.
func (b *Bus) Publish(event TaskEvent) error {
	event.Normalize()
	if err := event.Validate(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queue <- event:
		return nil
	default:
		b.log.WithField("task_id", event.Task.ID).Warn("event bus full, dropping task event")
		return ErrBusFull
	}
}

// Run delivers queued events to handler one at a time until ctx is done or
// the bus is closed and drained.
func (b *Bus) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-b.queue:
			if !ok {
				return nil
			}
			handler.HandleTaskEvent(ctx, event)
		}
	}
}

// Close stops accepting events. Run drains what is already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.queue)
}

// Pending reports the number of queued events.
func (b *Bus) Pending() int {
	return len(b.queue)
}
