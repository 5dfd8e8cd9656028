package event

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/furnace/internal/event/topic"
)

// Subscription is one subscriber's handle on the bus. Events matching
// the subscription's pattern arrive on Events() in publication order.
// The queue is bounded: when it fills, the oldest unread event is
// dropped so publishers are never blocked by a slow consumer.
//
// A subscription must be closed when no longer needed; closing it
// removes it from the bus and closes the Events channel.
type Subscription struct {
	id      string
	pattern topic.Topic
	bus     *Bus

	queueSize int
	ch        chan Event

	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

func newSubscription(b *Bus, pattern topic.Topic, opts ...SubscribeOption) *Subscription {
	s := &Subscription{
		id:        uuid.NewString(),
		pattern:   pattern,
		bus:       b,
		queueSize: b.defaultQueue,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ch = make(chan Event, s.queueSize)
	return s
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Pattern returns the topic pattern this subscription matches.
func (s *Subscription) Pattern() topic.Topic {
	return s.pattern
}

// Events returns the channel events are delivered on. The channel is
// closed when the subscription or the bus closes; buffered events remain
// readable until drained.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many unread events have been dropped due to queue
// overflow since the subscription was created.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes the subscription from the bus and closes the Events
// channel. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.shutdown()
}

// deliver enqueues an event, evicting the oldest unread event when the
// queue is full. Reports whether anything was dropped. Never blocks.
func (s *Subscription) deliver(ev Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	for {
		select {
		case s.ch <- ev:
			return dropped
		default:
		}
		// Queue full: evict the oldest unread event and retry. The
		// consumer may race us for it; either way space opens up.
		select {
		case <-s.ch:
			s.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// shutdown closes the channel without touching the bus registry.
func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
