// Package pubsub is a small topic registry used to fan state changes and
// wire events out to interested handlers without polling.
package pubsub

import "sync"

// Handler receives the payload published on a topic.
type Handler func(payload interface{})

// Unsubscribe removes exactly the handler it was returned for. Calling it
// more than once is a no-op.
type Unsubscribe func()

type entry struct {
	id uint64
	fn Handler
}

// Bus maps topic names to ordered handler lists.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]entry
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]entry)}
}

// Subscribe appends fn to topic's handlers.
func (b *Bus) Subscribe(topic string, fn Handler) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], entry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[topic]
	for i, e := range list {
		if e.id == id {
			// Copy so a snapshot taken by an in-flight Publish stays intact.
			next := make([]entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.handlers, topic)
			} else {
				b.handlers[topic] = next
			}
			return
		}
	}
}

// Publish invokes the handlers registered on topic at the time of the call,
// synchronously and in registration order.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.Lock()
	snapshot := make([]entry, len(b.handlers[topic]))
	copy(snapshot, b.handlers[topic])
	b.mu.Unlock()

	for _, e := range snapshot {
		e.fn(payload)
	}
}

// HandlerCount returns how many handlers are registered on topic.
func (b *Bus) HandlerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[topic])
}

// Clear drops every handler on every topic.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.handlers = make(map[string][]entry)
	b.mu.Unlock()
}
