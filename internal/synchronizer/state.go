package synchronizer

import "github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"

// Status is the lifecycle state of a Synchronizer.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State is the merged view of one remote client's data.
type State[T any] struct {
	ClientID string
	Data     T

	// Timestamp is the sender's stamp, clamped to the local clock plus the max clock error
	Timestamp int64

	// LastUpdateTimestamp is the local clock when the entry was last refreshed
	LastUpdateTimestamp int64

	Expired   bool
	ExpiredAt int64
}

func (s State[T]) stamp() liveevent.Stamp {
	return liveevent.Stamp{Timestamp: s.Timestamp, ClientID: s.ClientID}
}

// StateHolder is the application object whose state is synchronized.
//
// LocalState is pulled on every tick; ok=false means there is nothing to share yet.
// connecting is true for the pull made when the synchronizer starts.
// Callbacks are never invoked while the synchronizer holds its lock, but may be invoked
// concurrently for different remote clients.
type StateHolder[T any] interface {
	LocalState(connecting bool) (data T, ok bool, err error)
	RemoteUpdated(state State[T])
	RemoteExpired(state State[T])
	RemoteRemoved(clientID string)
}
