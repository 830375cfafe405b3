package coordinator

import (
	"context"
	"sync"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/logger"
)

// DefaultObserverBuffer is the per-observer notification backlog.
const DefaultObserverBuffer = 64

// Notifier receives a notification for every processed event.
type Notifier interface {
	Notify(ctx context.Context, notification safety.Notification)
}

// NopNotifier drops notifications.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(context.Context, safety.Notification) {}

// Broadcaster fans notifications out to subscribed observers. Delivery is
// best effort: an observer whose buffer is full is dropped.
type Broadcaster struct {
	mu        sync.Mutex
	buffer    int
	nextID    uint64
	observers map[uint64]chan safety.Notification
	closed    bool
}

// NewBroadcaster creates a broadcaster with the given per-observer buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultObserverBuffer
	}

	return &Broadcaster{
		buffer:    buffer,
		observers: make(map[uint64]chan safety.Notification),
	}
}

// Subscribe registers an observer. The returned cancel function unsubscribes
// and closes the channel; calling it twice is safe.
func (b *Broadcaster) Subscribe() (<-chan safety.Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan safety.Notification, b.buffer)
	if b.closed {
		close(ch)

		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.observers[id] = ch

	return ch, func() { b.remove(id) }
}

// Notify delivers n to every observer without blocking.
func (b *Broadcaster) Notify(ctx context.Context, n safety.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.observers {
		select {
		case ch <- n:
		default:
			logger.WarnKV(ctx, "Observer is not keeping up, dropping it", "observer", id)

			delete(b.observers, id)
			close(ch)
		}
	}
}

// Observers returns the number of subscribed observers.
func (b *Broadcaster) Observers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.observers)
}

// Close closes every observer channel and rejects new subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for id, ch := range b.observers {
		delete(b.observers, id)
		close(ch)
	}
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.observers[id]; ok {
		delete(b.observers, id)
		close(ch)
	}
}
