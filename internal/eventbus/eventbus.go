// Package eventbus provides a bounded-channel publish/subscribe bus used to
// fan state changes out to connected sessions. Delivery to a subscriber is
// never allowed to block a producer: a subscriber whose backlog is full is
// dropped and must resubscribe and resync.
package eventbus

import "sync"

// Bus is a type-safe publish/subscribe bus for events of type T.
type Bus[T any] struct {
	mu      sync.RWMutex
	backlog int
	subs    map[int]chan T
	next    int
	closed  bool
	// OnDrop, when set, is invoked (outside the lock) with the ID of each
	// subscriber removed because its backlog was full.
	OnDrop func(id int)
}

// New creates a Bus whose subscriber channels buffer backlog events.
func New[T any](backlog int) *Bus[T] {
	if backlog <= 0 {
		backlog = 8
	}
	return &Bus[T]{backlog: backlog, subs: make(map[int]chan T)}
}

// Publish sends the event to all subscribers. Subscribers that cannot accept
// the event are disconnected rather than blocking the producer.
func (b *Bus[T]) Publish(e T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var dropped []int
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			close(ch)
			delete(b.subs, id)
			dropped = append(dropped, id)
		}
	}
	onDrop := b.OnDrop
	b.mu.Unlock()
	if onDrop != nil {
		for _, id := range dropped {
			onDrop(id)
		}
	}
}

// Subscribe registers a subscriber and returns its ID and channel. The
// channel is closed when the subscriber is dropped or the bus closes.
func (b *Bus[T]) Subscribe() (int, <-chan T) {
	ch := make(chan T, b.backlog)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return -1, ch
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel. Unknown IDs are
// a no-op.
func (b *Bus[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		if !b.closed {
			close(ch)
		}
	}
}

// Len returns the number of live subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes the bus and all subscriber channels.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
