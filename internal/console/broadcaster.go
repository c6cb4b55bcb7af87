package console

import (
	"errors"
	"sync"
)

// ErrBroadcasterStopped is returned when subscribing after Stop.
var ErrBroadcasterStopped = errors.New("broadcaster is stopped")

// Broadcaster fans messages out to subscribers without blocking the publisher.
// A subscriber whose buffer is full loses its oldest message.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[chan T]struct{}
	buffer      int
	stopped     bool
}

// NewBroadcaster creates a broadcaster whose subscribers get the given buffer size.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster[T]{
		subscribers: make(map[chan T]struct{}),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber. The returned func unsubscribes and is safe to call twice.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func(), error) {
	return b.SubscribeWith(nil)
}

// SubscribeWith registers a subscriber whose channel is pre-filled with initial.
func (b *Broadcaster[T]) SubscribeWith(initial []T) (<-chan T, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return nil, func() {}, ErrBroadcasterStopped
	}

	ch := make(chan T, len(initial)+b.buffer)
	for _, item := range initial {
		ch <- item
	}
	b.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.unsubscribe(ch) })
	}, nil
}

func (b *Broadcaster[T]) unsubscribe(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Publish delivers msg to every subscriber.
func (b *Broadcaster[T]) Publish(msg T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	for ch := range b.subscribers {
		select {
		case ch <- msg:
			continue
		default:
		}
		// full: drop the oldest value and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

// Stop closes every subscriber channel. Later publishes are ignored.
func (b *Broadcaster[T]) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.stopped = true
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}

// Stopped reports whether Stop was called.
func (b *Broadcaster[T]) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
