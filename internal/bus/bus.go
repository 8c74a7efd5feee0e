// Package bus is a small in-process publish/subscribe primitive with typed
// payloads, per-subscriber filters, and explicit unsubscribe.
package bus

import "sync"

// UnsubscribeFunc removes a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// Bus fans published values out to all matching subscribers. Handlers run
// synchronously on the publisher's goroutine, so they must not block.
type Bus[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscription[T]
}

type subscription[T any] struct {
	filter  func(T) bool
	handler func(T)
}

func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]subscription[T])}
}

// Subscribe registers handler for every published value. A nil filter
// matches everything.
func (b *Bus[T]) Subscribe(filter func(T) bool, handler func(T)) UnsubscribeFunc {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription[T]{filter: filter, handler: handler}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// SubscribeChan delivers matching values to a buffered channel. Values are
// dropped, not queued, when the receiver falls behind; the wait-for-result
// paths only care about the first match anyway.
func (b *Bus[T]) SubscribeChan(filter func(T) bool, buffer int) (<-chan T, UnsubscribeFunc) {
	ch := make(chan T, buffer)
	unsub := b.Subscribe(filter, func(v T) {
		select {
		case ch <- v:
		default:
		}
	})
	return ch, unsub
}

func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	handlers := make([]func(T), 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter == nil || s.filter(v) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(v)
	}
}

// Len reports the current number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
