package event

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/dshills/furnace/internal/event/topic"
	"github.com/dshills/furnace/internal/logging"
)

// Bus is the process-wide publish/subscribe hub. It lives as long as
// the application; components publish state changes on it and consumers
// (UI panels, agents, loggers) subscribe to topic patterns.
//
// The registry lock is held only for subscribe/unsubscribe and match
// snapshots, never while a consumer processes an event. A separate
// fan-out lock serializes enqueueing so that subscribers matching the
// same topic agree on event order; enqueueing never blocks, so the
// critical section stays short.
type Bus struct {
	mu      sync.RWMutex
	matcher *topic.Matcher
	subs    map[topic.Topic][]*Subscription
	closed  bool

	// fanout serializes delivery so all subscribers observe the same
	// relative event order.
	fanout sync.Mutex

	defaultQueue   int
	overflowEvents bool
	logger         *logrus.Entry

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Stats is a snapshot of bus counters.
type Stats struct {
	// Published is the number of accepted Publish calls.
	Published uint64

	// Delivered is the number of events enqueued across all
	// subscriptions.
	Delivered uint64

	// Dropped is the number of unread events evicted by overflow.
	Dropped uint64

	// Subscriptions is the number of active subscriptions.
	Subscriptions int
}

// NewBus creates a bus ready for use.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		matcher:        topic.NewMatcher(),
		subs:           make(map[topic.Topic][]*Subscription),
		defaultQueue:   DefaultQueueSize,
		overflowEvents: true,
		logger:         logging.New("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscription for the given topic pattern. The
// pattern may be a concrete topic ("terminal.closed") or contain
// wildcards ("terminal.*", "**"). The returned subscription receives
// every matching event published after this call returns.
func (b *Bus) Subscribe(pattern topic.Topic, opts ...SubscribeOption) (*Subscription, error) {
	if !pattern.IsValid() {
		return nil, ErrInvalidPattern
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	s := newSubscription(b, pattern, opts...)
	b.subs[pattern] = append(b.subs[pattern], s)
	b.matcher.Add(pattern)
	return s, nil
}

// unsubscribe removes a subscription from the registry. The pattern is
// dropped from the matcher when its last subscription goes away.
func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[s.pattern]
	for i, sub := range list {
		if sub == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, s.pattern)
		b.matcher.Remove(s.pattern)
	} else {
		b.subs[s.pattern] = list
	}
}

// Publish constructs an event and fans it out to matching subscribers.
// Publishing with no subscribers succeeds silently. Publishing never
// blocks on slow consumers.
func (b *Bus) Publish(t topic.Topic, source string, payload any) error {
	return b.PublishEvent(New(t, source, payload))
}

// PublishEvent fans out a pre-constructed event.
func (b *Bus) PublishEvent(ev Event) error {
	return b.publish(ev, b.overflowEvents)
}

func (b *Bus) publish(ev Event, notifyOverflow bool) error {
	if !ev.Topic.IsValid() || ev.Topic.IsPattern() {
		return ErrInvalidTopic
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	targets := b.match(ev.Topic)
	b.mu.RUnlock()

	b.published.Add(1)
	if len(targets) == 0 {
		return nil
	}

	var overflowed []*Subscription
	b.fanout.Lock()
	for _, s := range targets {
		if s.deliver(ev) {
			overflowed = append(overflowed, s)
		}
		b.delivered.Add(1)
	}
	b.fanout.Unlock()

	for _, s := range overflowed {
		b.dropped.Add(1)
		if notifyOverflow {
			b.reportOverflow(s, ev.Topic)
		}
	}
	return nil
}

// match collects the distinct subscriptions whose pattern matches the
// topic. Caller must hold at least a read lock.
func (b *Bus) match(t topic.Topic) []*Subscription {
	patterns := b.matcher.Match(t)
	if len(patterns) == 0 {
		return nil
	}

	var targets []*Subscription
	seen := make(map[*Subscription]struct{})
	for _, p := range patterns {
		for _, s := range b.subs[p] {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			targets = append(targets, s)
		}
	}
	return targets
}

// reportOverflow surfaces a dropped-event notification. Overflow events
// themselves never trigger further notifications, so a slow "bus.**"
// subscriber cannot cause a feedback loop.
func (b *Bus) reportOverflow(s *Subscription, cause topic.Topic) {
	b.logger.WithFields(logrus.Fields{
		"pattern": s.Pattern().String(),
		"dropped": s.Dropped(),
		"topic":   cause.String(),
	}).Warn("subscription queue overflow, oldest events dropped")

	ev := New(TopicOverflow, "bus", Overflow{
		Pattern: s.Pattern().String(),
		Dropped: s.Dropped(),
		Topic:   cause.String(),
	})
	_ = b.publish(ev, false)
}

// SetDefaultQueueSize changes the queue capacity used by future
// subscriptions. Existing subscriptions keep their queues. Values
// below one are ignored.
func (b *Bus) SetDefaultQueueSize(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.defaultQueue = n
	b.mu.Unlock()
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	b.mu.RUnlock()

	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Dropped:       b.dropped.Load(),
		Subscriptions: n,
	}
}

// Close shuts the bus down. All subscriptions are closed (their Events
// channels close once drained) and further Publish/Subscribe calls fail
// with ErrBusClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.subs = make(map[topic.Topic][]*Subscription)
	b.matcher = topic.NewMatcher()
	b.mu.Unlock()

	for _, s := range all {
		s.shutdown()
	}
	b.logger.WithField("subscriptions", len(all)).Debug("bus closed")
	return nil
}
