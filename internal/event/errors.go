package event

import "errors"

var (
	// ErrBusClosed is returned when publishing or subscribing on a
	// closed bus.
	ErrBusClosed = errors.New("event bus closed")

	// ErrInvalidTopic is returned when publishing on an empty,
	// malformed, or wildcard topic.
	ErrInvalidTopic = errors.New("invalid event topic")

	// ErrInvalidPattern is returned when subscribing with a malformed
	// topic pattern.
	ErrInvalidPattern = errors.New("invalid topic pattern")
)
