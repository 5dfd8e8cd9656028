// Package event implements the topic-based publish/subscribe bus that
// distributes session and process state changes to consumers.
//
// # Overview
//
// Publishers emit events on dotted topics ("terminal.output",
// "process.log"); subscribers register a topic pattern and consume a
// live channel of matching events. The bus knows nothing about sessions
// or processes; it is pure message distribution.
//
// # Delivery
//
// Every subscription owns a bounded FIFO queue. Publishing never blocks:
// when a queue is full the oldest unread event is dropped, the
// subscription's dropped counter increments, and a "bus.overflow" event
// is published so consumers can detect loss. Subscribers that match the
// same topic observe events in the same relative order, and a subscriber
// only receives events published after it subscribed.
//
// # Usage
//
//	bus := event.NewBus()
//	defer bus.Close()
//
//	sub, _ := bus.Subscribe("terminal.*")
//	defer sub.Close()
//
//	bus.Publish("terminal.output", "terminal", payload)
//
//	for ev := range sub.Events() {
//		// ...
//	}
package event
