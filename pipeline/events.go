package pipeline

import (
	"sync"

	"github.com/metalxalloy/axionarb/types"
)

// eventBus fans events out to subscriber channels. Slow subscribers drop
// events rather than stall the pipeline.
type eventBus struct {
	mu          sync.Mutex
	subscribers []chan types.Event
}

const subscriberBuffer = 64

// Subscribe registers a new subscriber channel.
func (b *eventBus) Subscribe() <-chan types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan types.Event, subscriberBuffer)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers an event to every subscriber without blocking.
func (b *eventBus) Publish(event types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (b *eventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
