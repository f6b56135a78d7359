// Package pubsub fans session snapshots out to observers.
package pubsub

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 16

// EventType names what happened to the published payload.
type EventType string

const (
	// Committed is published after a state change is applied.
	Committed EventType = "committed"
	// Restarting is published right before the process re-executes.
	Restarting EventType = "restarting"
)

// Event is a published payload with its type and publish time.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Broker delivers events to every subscriber without blocking the publisher.
// When a subscriber falls behind, its oldest pending event is discarded so
// the newest one is always delivered.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       map[chan Event[T]]struct{}
	done       chan struct{}
	bufferSize int
}

// NewBroker returns a broker with the default per-subscriber buffer.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer returns a broker with the given per-subscriber buffer.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	if size < 1 {
		size = 1
	}
	return &Broker[T]{
		subs:       make(map[chan Event[T]]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Subscribe returns a channel of events. It is closed when ctx is cancelled
// or the broker is closed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan Event[T])
		close(ch)
		return ch
	default:
	}

	sub := make(chan Event[T], b.bufferSize)
	b.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; !ok {
			return
		}
		delete(b.subs, sub)
		close(sub)
	}()

	return sub
}

// Publish sends payload to all subscribers.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	ev := Event[T]{Type: eventType, Payload: payload, Timestamp: time.Now()}
	for sub := range b.subs {
		for {
			select {
			case sub <- ev:
			default:
				select {
				case <-sub:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close shuts the broker down and closes every subscriber channel.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}
	close(b.done)
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
