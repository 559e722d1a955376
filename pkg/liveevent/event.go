package liveevent

import (
	"encoding/json"
	"fmt"
)

// LiveEvent is a single event broadcast through an event scope.
// Timestamp and ClientID are always written by the sending scope; values supplied
// by the caller are overwritten before transmission.
type LiveEvent[T any] struct {
	// Name is the event name within its scope
	Name string `json:"name"`

	// Timestamp is the sender's clock in milliseconds since the Unix epoch
	Timestamp int64 `json:"timestamp"`

	// ClientID identifies the sending client
	ClientID string `json:"clientId"`

	// Data is the application payload
	Data T `json:"data"`
}

// RawEvent is a LiveEvent whose payload has not been decoded yet.
type RawEvent = LiveEvent[json.RawMessage]

// Stamp returns the ordering key of the event.
func (e LiveEvent[T]) Stamp() Stamp {
	return Stamp{Timestamp: e.Timestamp, ClientID: e.ClientID}
}

// Encode converts a typed event into its raw form.
func Encode[T any](evt LiveEvent[T]) (RawEvent, error) {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return RawEvent{}, fmt.Errorf("failed to encode %q payload: %w", evt.Name, err)
	}
	return RawEvent{
		Name:      evt.Name,
		Timestamp: evt.Timestamp,
		ClientID:  evt.ClientID,
		Data:      data,
	}, nil
}

// Decode converts a raw event into a typed one.
func Decode[T any](raw RawEvent) (LiveEvent[T], error) {
	evt := LiveEvent[T]{
		Name:      raw.Name,
		Timestamp: raw.Timestamp,
		ClientID:  raw.ClientID,
	}
	if len(raw.Data) == 0 {
		return evt, nil
	}
	if err := json.Unmarshal(raw.Data, &evt.Data); err != nil {
		return evt, fmt.Errorf("failed to decode %q payload: %w", raw.Name, err)
	}
	return evt, nil
}

// Stamp is the last-writer-wins ordering key of an event.
type Stamp struct {
	Timestamp int64
	ClientID  string
}

// Compare returns -1, 0 or +1 depending on whether s orders before, equal to or after o.
func (s Stamp) Compare(o Stamp) int {
	switch {
	case s.Timestamp < o.Timestamp:
		return -1
	case s.Timestamp > o.Timestamp:
		return 1
	case s.ClientID < o.ClientID:
		return -1
	case s.ClientID > o.ClientID:
		return 1
	default:
		return 0
	}
}

// IsNewer reports whether received should replace current.
// Ties on timestamp go to the lexically greater client id; an identical stamp is not newer.
func IsNewer(current, received Stamp) bool {
	return received.Compare(current) > 0
}
