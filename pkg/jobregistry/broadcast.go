package jobregistry

import (
	"sync"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 64

// Subscription receives the events of one job.
//
// The channel is closed when the job is retired, when the registry is
// closed, or when the subscriber calls Close.
type Subscription struct {
	ch   chan Event
	b    *broadcaster
	once sync.Once
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
}

// broadcaster fans a job's events out to its subscribers without ever
// blocking the publisher.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

func newBroadcaster(buffer int) *broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &broadcaster{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

func (b *broadcaster) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{ch: make(chan Event, b.buffer), b: b}
	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, sub)
	sub.once.Do(func() { close(sub.ch) })
}

// publish delivers ev to every subscriber and returns how many subscribers
// missed it.
//
// A full buffer drops a progress event. A terminal or cleanup event instead
// evicts the oldest buffered event so the end of the stream always arrives.
func (b *broadcaster) publish(ev Event) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		if !ev.Type.EndsStream() {
			dropped++
			continue
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// close detaches every subscriber. Further publishes are ignored and new
// subscriptions start closed.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, sub)
	}
}
