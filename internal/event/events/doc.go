// Package events defines the topics and payload types published by the
// orchestration core. Subscribers type-assert Event.Payload against
// these structs.
package events
