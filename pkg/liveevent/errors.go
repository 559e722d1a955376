package liveevent

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when sending before a local client id is known
	ErrNotConnected = errors.New("not connected: local client id is not known")
	// ErrAlreadyStopped is returned when restarting a stopped synchronizer
	ErrAlreadyStopped = errors.New("synchronizer already stopped")
	// ErrScopeDisposed is returned when using a scope after Dispose
	ErrScopeDisposed = errors.New("event scope disposed")
	// ErrRoleVerificationDenied is reported to telemetry when an event is dropped by role checks
	ErrRoleVerificationDenied = errors.New("role verification denied")
	// ErrClientNotFound is returned by role hosts for unknown client ids
	ErrClientNotFound = errors.New("client not found")
)

// TransportError wraps a failure from the signaling channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
