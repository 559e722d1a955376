package signaling

import (
	"context"
	"encoding/json"
	"io"
)

// DisconnectedType is the signal type a relay emits when a client leaves the session.
// Its content is a DisconnectedNotice.
const DisconnectedType = "__livesync.client.disconnected"

// Message is a signal as delivered to subscribers
type Message struct {
	// ClientID identifies the client that submitted the signal
	ClientID string `json:"clientId"`

	// Type namespaces the signal (scope-qualified event name)
	Type string `json:"type"`

	// Content is the JSON-encoded body
	Content json.RawMessage `json:"content"`
}

// DisconnectedNotice is the content of a DisconnectedType signal
type DisconnectedNotice struct {
	ClientID string `json:"clientId"`
}

// Handler receives signals. local is true when the local client submitted the signal.
type Handler func(msg Message, local bool)

// Signaler is the raw signaling channel consumed by event scopes.
type Signaler interface {
	io.Closer

	// Connect joins the session and returns the local client id.
	// Calling Connect on a connected signaler returns the existing id.
	Connect(ctx context.Context) (string, error)

	// ClientID returns the local client id, or "" before Connect succeeds.
	ClientID() string

	// SubmitSignal broadcasts a signal to every connected client, including the sender.
	SubmitSignal(ctx context.Context, signalType string, content []byte) error

	// OnSignal registers a handler for every received signal.
	// The returned function removes the handler and is safe to call more than once.
	OnSignal(handler Handler) (unsubscribe func())
}
