package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

// ErrMockNotConnected is returned when submitting through a disconnected mock signaler
var ErrMockNotConnected = errors.New("mock signaler not connected")

// MockSignalerHub connects MockSignalers in one process.
// Signals are delivered synchronously, in submission order, to every connected member.
type MockSignalerHub struct {
	mu      sync.Mutex
	members []*MockSignaler
}

// NewMockSignalerHub creates an empty hub.
func NewMockSignalerHub() *MockSignalerHub {
	return &MockSignalerHub{}
}

// NewSignaler creates a signaler attached to the hub. An empty clientID is replaced
// by a random id on Connect.
func (h *MockSignalerHub) NewSignaler(clientID string) *MockSignaler {
	return &MockSignaler{
		hub: h,
		id:  clientID,
	}
}

// Connected returns the ids of connected members.
func (h *MockSignalerHub) Connected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.members))
	for _, m := range h.members {
		ids = append(ids, m.ClientID())
	}
	return ids
}

func (h *MockSignalerHub) join(s *MockSignaler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.members {
		if m == s {
			return
		}
	}
	h.members = append(h.members, s)
}

func (h *MockSignalerHub) leave(s *MockSignaler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, m := range h.members {
		if m == s {
			h.members = append(h.members[:i], h.members[i+1:]...)
			return
		}
	}
}

func (h *MockSignalerHub) broadcast(from *MockSignaler, msg signaling.Message) {
	h.mu.Lock()
	recipients := append([]*MockSignaler(nil), h.members...)
	h.mu.Unlock()

	for _, r := range recipients {
		r.deliver(msg, r == from)
	}
}

// MockSignaler is a signaling.Signaler backed by a MockSignalerHub.
type MockSignaler struct {
	hub *MockSignalerHub

	mu        sync.Mutex
	id        string
	connected bool
	submitErr error
	submitted int

	handlers signaling.Handlers
}

// Connect joins the hub.
func (s *MockSignaler) Connect(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.connected = true
	id := s.id
	s.mu.Unlock()

	s.hub.join(s)
	return id, nil
}

// Disconnect removes the signaler from the hub's connected set without closing it.
func (s *MockSignaler) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.hub.leave(s)
}

// ClientID returns the local id once connected.
func (s *MockSignaler) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ""
	}
	return s.id
}

// FailSubmits makes every SubmitSignal return err until called again with nil.
func (s *MockSignaler) FailSubmits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

// Submitted returns the number of signals successfully submitted.
func (s *MockSignaler) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// SubmitSignal broadcasts to every connected member of the hub, the sender included.
func (s *MockSignaler) SubmitSignal(ctx context.Context, signalType string, content []byte) error {
	s.mu.Lock()
	if s.submitErr != nil {
		err := s.submitErr
		s.mu.Unlock()
		return err
	}
	if !s.connected {
		s.mu.Unlock()
		return ErrMockNotConnected
	}
	s.submitted++
	msg := signaling.Message{
		ClientID: s.id,
		Type:     signalType,
		Content:  append([]byte(nil), content...),
	}
	s.mu.Unlock()

	s.hub.broadcast(s, msg)
	return nil
}

// OnSignal registers handler for every delivered signal.
func (s *MockSignaler) OnSignal(handler signaling.Handler) func() {
	return s.handlers.Add(handler)
}

// Close disconnects the signaler.
func (s *MockSignaler) Close() error {
	s.Disconnect()
	return nil
}

func (s *MockSignaler) deliver(msg signaling.Message, local bool) {
	s.handlers.Dispatch(msg, local)
}

var _ signaling.Signaler = (*MockSignaler)(nil)
