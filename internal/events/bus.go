// Package events carries domain events from the write paths to every
// in-process consumer (live delivery, thread archival).
package events

import (
	"context"
	"sync"

	"github.com/sumire/relay/internal/domain"
)

// Handler consumes a published event.
type Handler func(ctx context.Context, ev domain.Event) error

// Bus is a synchronous in-process publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]handlerEntry
}

type handlerEntry struct {
	name string
	fn   Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]handlerEntry)}
}

// Subscribe registers fn under name and returns a function that removes it.
func (b *Bus) Subscribe(name string, fn Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handlerEntry{name: name, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers ev to every subscriber. Subscriber failures are logged and
// swallowed so the publishing write path never observes them.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	b.mu.RLock()
	entries := make([]handlerEntry, 0, len(b.handlers))
	for _, h := range b.handlers {
		entries = append(entries, h)
	}
	b.mu.RUnlock()

	for _, h := range entries {
		BestEffort(h.name+" "+string(ev.EventName()), func() error {
			return h.fn(ctx, ev)
		})
	}
}
