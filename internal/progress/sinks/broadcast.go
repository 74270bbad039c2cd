package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

const defaultSubscriberBuffer = 64

// BroadcastSink fans events out to in-process subscribers such as the HTTP
// event stream. Slow subscribers miss events instead of blocking the hub.
type BroadcastSink struct {
	mu     sync.Mutex
	subs   map[int]chan progress.Event
	nextID int
	closed bool
}

// NewBroadcastSink returns an empty broadcaster.
func NewBroadcastSink() *BroadcastSink {
	return &BroadcastSink{subs: make(map[int]chan progress.Event)}
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (b *BroadcastSink) Subscribe(buffer int) (<-chan progress.Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan progress.Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Subscribers reports the number of active listeners.
func (b *BroadcastSink) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Consume delivers each event to every subscriber without blocking.
func (b *BroadcastSink) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range batch {
		for _, ch := range b.subs {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (b *BroadcastSink) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.closed = true
	return nil
}
