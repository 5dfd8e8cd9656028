package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/dshills/furnace/internal/event/topic"
)

// Event is one published message. Events are immutable once published;
// the bus hands the same value to every matching subscriber.
type Event struct {
	// ID uniquely identifies the event.
	ID string

	// Topic is the dotted topic the event was published on.
	Topic topic.Topic

	// Source names the component that published the event.
	Source string

	// Payload is the event body. Consumers type-assert against the
	// payload structs in the events subpackage.
	Payload any

	// Timestamp is when the event was published.
	Timestamp time.Time
}

// New constructs an event with a fresh ID and the current time.
func New(t topic.Topic, source string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Topic:     t,
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// TopicOverflow is published by the bus itself when a subscription's
// queue overflowed and unread events were dropped.
const TopicOverflow topic.Topic = "bus.overflow"

// Overflow is the payload of a TopicOverflow event.
type Overflow struct {
	// Pattern is the affected subscription's topic pattern.
	Pattern string

	// Dropped is the subscription's cumulative dropped-event count.
	Dropped uint64

	// Topic is the topic of the publish that caused the drop.
	Topic string
}
