package eventscope

import (
	"context"
	"fmt"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// EventSource sends one named event of payload type T through a scope.
type EventSource[T any] struct {
	scope     *Scope
	eventName string
}

// NewEventSource binds eventName on scope.
func NewEventSource[T any](scope *Scope, eventName string) *EventSource[T] {
	return &EventSource[T]{scope: scope, eventName: eventName}
}

// EventName returns the bound event name.
func (s *EventSource[T]) EventName() string {
	return s.eventName
}

// SendEvent broadcasts data and returns the stamped event.
func (s *EventSource[T]) SendEvent(ctx context.Context, data T) (liveevent.LiveEvent[T], error) {
	raw, err := s.scope.SendEvent(ctx, s.eventName, data)
	return typed(raw, data), err
}

// SendLocalEvent delivers data to local listeners only.
func (s *EventSource[T]) SendLocalEvent(ctx context.Context, data T) (liveevent.LiveEvent[T], error) {
	raw, err := s.scope.SendLocalEvent(ctx, s.eventName, data)
	if err != nil {
		return liveevent.LiveEvent[T]{}, fmt.Errorf("send local %q: %w", s.eventName, err)
	}
	return typed(raw, data), nil
}

func typed[T any](raw liveevent.RawEvent, data T) liveevent.LiveEvent[T] {
	return liveevent.LiveEvent[T]{
		Name:      raw.Name,
		Timestamp: raw.Timestamp,
		ClientID:  raw.ClientID,
		Data:      data,
	}
}
