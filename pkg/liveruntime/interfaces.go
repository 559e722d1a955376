package liveruntime

import (
	"context"
	"io"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// Runtime is the composition root for one client in one session.
type Runtime interface {
	io.Closer

	// Start connects the signaling channel and starts registered synchronizers.
	// Calling Start on a started runtime is a no-op.
	Start(ctx context.Context) error

	// ClientID returns the local client id, or "" before Start succeeds.
	ClientID() string

	// TimestampProvider returns the clock shared by every scope.
	TimestampProvider() liveevent.TimestampProvider

	// RoleVerifier returns the verifier shared by every scope.
	RoleVerifier() liveevent.RoleVerifier

	// ClientDisconnected forwards an explicit disconnect to every synchronizer.
	ClientDisconnected(clientID string)

	// GetHealth returns the runtime's current status.
	GetHealth(ctx context.Context) (HealthStatus, error)
}

// HealthStatus represents the state of a runtime
type HealthStatus struct {
	// Healthy indicates the runtime is started and not closed
	Healthy bool

	// Connected indicates a local client id is known
	Connected bool

	// ClientID is the local client id
	ClientID string

	// Scopes is the number of live event scopes
	Scopes int

	// Synchronizers is the number of registered synchronizers
	Synchronizers int

	// Objects is the number of objects created through the registry
	Objects int

	// Message provides additional status information
	Message string
}
