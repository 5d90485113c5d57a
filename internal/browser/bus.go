package browser

import (
	"sync"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

// MessageBus is the in-process cross-context channel. Popup pages reach it
// through the server's message endpoint.
type MessageBus struct {
	mu     sync.RWMutex
	origin string
	subs   map[uint64]func(popup.Message)
	next   uint64
}

// NewMessageBus creates a bus for a host at origin.
func NewMessageBus(origin string) *MessageBus {
	return &MessageBus{
		origin: origin,
		subs:   make(map[uint64]func(popup.Message)),
	}
}

// SetOrigin updates the origin once the listening address is known.
func (b *MessageBus) SetOrigin(origin string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.origin = origin
}

func (b *MessageBus) Origin() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.origin
}

func (b *MessageBus) Subscribe(fn func(popup.Message)) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}

// Publish delivers msg to every current subscriber and returns how many
// were called. Subscribers run outside the bus lock.
func (b *MessageBus) Publish(msg popup.Message) int {
	b.mu.RLock()
	subs := make([]func(popup.Message), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(msg)
	}
	return len(subs)
}

// Subscribers returns the number of live subscriptions.
func (b *MessageBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
