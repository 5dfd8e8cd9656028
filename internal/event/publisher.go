package event

import (
	"errors"

	"github.com/dshills/furnace/internal/event/topic"
)

// Publisher is the narrow publishing interface handed to components.
// It binds a source name so callers only supply topic and payload, and
// it never returns an error: components fire state changes and move on.
type Publisher interface {
	Publish(t topic.Topic, payload any)
}

// Source returns a Publisher that stamps events with the given source
// component name.
func (b *Bus) Source(name string) Publisher {
	return &sourcePublisher{bus: b, source: name}
}

type sourcePublisher struct {
	bus    *Bus
	source string
}

func (p *sourcePublisher) Publish(t topic.Topic, payload any) {
	err := p.bus.Publish(t, p.source, payload)
	if err == nil || errors.Is(err, ErrBusClosed) {
		// Publishing during shutdown is expected and not worth noise.
		return
	}
	p.bus.logger.WithError(err).WithField("topic", t.String()).Warn("event not published")
}

// Discard is a Publisher that drops everything. Useful as a default when
// a component is constructed without a bus.
var Discard Publisher = discardPublisher{}

type discardPublisher struct{}

func (discardPublisher) Publish(topic.Topic, any) {}
