// Package signaling defines the transport contract the livesync core is layered on.
//
// A Signaler is a broadcast channel shared by every client in a session:
//   - SubmitSignal sends a typed message to all connected clients, the sender included
//   - OnSignal delivers every message with a flag telling whether the local client sent it
//   - Connect joins the session and establishes the local client id
//
// The core treats a signal's Type as the event-name namespace and its Content as a
// JSON-encoded liveevent envelope. Delivery guarantees (retries, ordering across
// reconnects) belong to the implementation, not to the core.
//
// Implementations in this module:
//   - internal/testutil: in-process mock hub for tests
//   - internal/signalgrpc: gRPC bidi stream to a relay
//   - pkg/httpclient: WebSocket connection to a relay
package signaling
