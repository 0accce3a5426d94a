// Package bus is the in-process fan-out point between the channel, the
// reconciliation engine and read-side consumers. Publish never blocks:
// a subscriber that cannot keep up loses events rather than stalling the
// serialized update path.
package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with topic-prefix
// filtering.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers an event to every subscriber whose prefix matches
// event.Topic. Full subscriber buffers drop the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Topic, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe returns a channel receiving events whose topic starts with
// prefix, and an unsubscribe function. bufSize controls the channel buffer.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
