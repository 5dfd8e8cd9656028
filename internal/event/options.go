package event

import "github.com/sirupsen/logrus"

// Default queue capacity for subscriptions that do not set their own.
const DefaultQueueSize = 256

// Option configures a Bus.
type Option func(*Bus)

// WithDefaultQueueSize sets the queue capacity used by subscriptions
// that do not specify one.
func WithDefaultQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.defaultQueue = n
		}
	}
}

// WithOverflowEvents controls whether the bus publishes a "bus.overflow"
// event when a subscription drops unread events. Enabled by default.
func WithOverflowEvents(enabled bool) Option {
	return func(b *Bus) {
		b.overflowEvents = enabled
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*Subscription)

// WithQueueSize sets this subscription's queue capacity.
func WithQueueSize(n int) SubscribeOption {
	return func(s *Subscription) {
		if n > 0 {
			s.queueSize = n
		}
	}
}
