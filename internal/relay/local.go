package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

// LocalSignaler is a signaling.Signaler attached to a Hub in the same process.
// Signals are handed to handlers on the broadcasting goroutine.
type LocalSignaler struct {
	hub   *Hub
	roles []liveevent.Role

	// serializes Connect and Close
	lifecycle sync.Mutex

	mu        sync.RWMutex
	id        string
	connected bool

	handlers signaling.Handlers
}

// NewLocalSignaler creates a signaler that joins hub with roles on Connect.
// An empty clientID is replaced by a random one.
func NewLocalSignaler(hub *Hub, clientID string, roles ...liveevent.Role) *LocalSignaler {
	return &LocalSignaler{
		hub:   hub,
		id:    clientID,
		roles: roles,
	}
}

// Connect joins the hub.
func (s *LocalSignaler) Connect(ctx context.Context) (string, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return s.id, nil
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	id := s.id
	s.mu.Unlock()

	if err := s.hub.Join(id, s, s.roles); err != nil {
		return "", fmt.Errorf("failed to join relay: %w", err)
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return id, nil
}

// ClientID returns the local id once connected.
func (s *LocalSignaler) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return ""
	}
	return s.id
}

// SubmitSignal broadcasts through the hub.
func (s *LocalSignaler) SubmitSignal(ctx context.Context, signalType string, content []byte) error {
	s.mu.RLock()
	id, connected := s.id, s.connected
	s.mu.RUnlock()
	if !connected {
		return liveevent.ErrNotConnected
	}
	return s.hub.Broadcast(ctx, id, signalType, content)
}

// OnSignal registers handler.
func (s *LocalSignaler) OnSignal(handler signaling.Handler) func() {
	return s.handlers.Add(handler)
}

// Deliver implements Connection.
func (s *LocalSignaler) Deliver(msg signaling.Message) error {
	s.mu.RLock()
	local := msg.ClientID != "" && msg.ClientID == s.id
	s.mu.RUnlock()

	s.handlers.Dispatch(msg, local)
	return nil
}

// Close leaves the hub. Safe to call more than once.
func (s *LocalSignaler) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	id := s.id
	s.mu.Unlock()

	s.hub.Leave(id, s)
	return nil
}

var (
	_ signaling.Signaler = (*LocalSignaler)(nil)
	_ Connection         = (*LocalSignaler)(nil)
)
