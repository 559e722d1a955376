// Package eventscope implements verified event channels on top of a signaler.

package eventscope

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

// localClientID stamps local-only events sent before the signaler is connected.
const localClientID = "local"

// Listener receives events. local is true for events sent by this client.
type Listener func(evt liveevent.RawEvent, local bool)

// DeniedHook is told about every remote event dropped by role verification.
// err wraps liveevent.ErrRoleVerificationDenied or the verifier's failure.
type DeniedHook func(evt liveevent.RawEvent, err error)

// Subscription identifies a registered listener
type Subscription struct {
	eventName string
	id        uint64
}

// EventName returns the event name the subscription listens to.
func (s Subscription) EventName() string {
	return s.eventName
}

type listener struct {
	id       uint64
	callback Listener
}

// senderQueue buffers one sender's events while verification is pending.
type senderQueue struct {
	pending  []liveevent.RawEvent
	draining bool
}

// Option configures a Scope
type Option func(*Scope)

// WithLogger sets the scope's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scope) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAllowedRoles requires remote senders of every event in the scope to hold one of roles.
func WithAllowedRoles(roles ...liveevent.Role) Option {
	return func(s *Scope) {
		s.allowedRoles = append([]liveevent.Role(nil), roles...)
	}
}

// WithEventRoles overrides the allowed roles for a single event name.
func WithEventRoles(eventName string, roles ...liveevent.Role) Option {
	return func(s *Scope) {
		s.eventRoles[eventName] = append([]liveevent.Role(nil), roles...)
	}
}

// WithDeniedHook routes dropped events to hook.
func WithDeniedHook(hook DeniedHook) Option {
	return func(s *Scope) {
		s.onDenied = hook
	}
}

// Scope is a verified channel for one named class of events on top of a signaler.
//
// Outgoing events are stamped with the local client id and the shared clock.
// Incoming remote events are checked against the allowed roles before any listener
// sees them. Events from one sender are delivered in transport order; each sender is
// drained on its own goroutine, so listeners may run concurrently for different senders.
type Scope struct {
	name         string
	prefix       string
	signaler     signaling.Signaler
	clock        liveevent.TimestampProvider
	verifier     liveevent.RoleVerifier
	logger       *slog.Logger
	allowedRoles []liveevent.Role
	eventRoles   map[string][]liveevent.Role
	onDenied     DeniedHook

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu        sync.RWMutex
	listeners map[string][]listener
	nextID    uint64
	queues    map[string]*senderQueue
	disposed  bool
}

// New creates a scope named name and subscribes it to signaler.
func New(name string, signaler signaling.Signaler, clock liveevent.TimestampProvider, verifier liveevent.RoleVerifier, opts ...Option) (*Scope, error) {
	if name == "" {
		return nil, fmt.Errorf("scope name cannot be empty")
	}
	if signaler == nil {
		return nil, fmt.Errorf("signaler cannot be nil")
	}
	if clock == nil {
		return nil, fmt.Errorf("timestamp provider cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scope{
		name:       name,
		prefix:     name + ":",
		signaler:   signaler,
		clock:      clock,
		verifier:   verifier,
		logger:     slog.New(slog.DiscardHandler),
		eventRoles: make(map[string][]liveevent.Role),
		ctx:        ctx,
		cancel:     cancel,
		listeners:  make(map[string][]listener),
		queues:     make(map[string]*senderQueue),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("scope", name)
	s.unsubscribe = signaler.OnSignal(s.handleSignal)

	return s, nil
}

// Name returns the scope name.
func (s *Scope) Name() string {
	return s.name
}

// ClientID returns the local client id, or "" before the signaler is connected.
func (s *Scope) ClientID() string {
	return s.signaler.ClientID()
}

// Logger returns the scope's logger.
func (s *Scope) Logger() *slog.Logger {
	return s.logger
}

// SendEvent stamps and broadcasts an event. Local listeners receive it through the
// signaler's loop-back with local set to true.
func (s *Scope) SendEvent(ctx context.Context, eventName string, payload any) (liveevent.RawEvent, error) {
	if s.isDisposed() {
		return liveevent.RawEvent{}, liveevent.ErrScopeDisposed
	}

	clientID := s.signaler.ClientID()
	if clientID == "" {
		return liveevent.RawEvent{}, liveevent.ErrNotConnected
	}

	evt, err := s.stamp(eventName, clientID, payload)
	if err != nil {
		return liveevent.RawEvent{}, err
	}

	content, err := json.Marshal(evt)
	if err != nil {
		return liveevent.RawEvent{}, fmt.Errorf("failed to encode event %q: %w", eventName, err)
	}

	if err := s.signaler.SubmitSignal(ctx, s.prefix+eventName, content); err != nil {
		s.logger.Warn("failed to submit signal", "event", eventName, "error", err)
		return evt, &liveevent.TransportError{Op: "send " + eventName, Err: err}
	}

	return evt, nil
}

// SendLocalEvent stamps an event and delivers it to local listeners only.
func (s *Scope) SendLocalEvent(ctx context.Context, eventName string, payload any) (liveevent.RawEvent, error) {
	if s.isDisposed() {
		return liveevent.RawEvent{}, liveevent.ErrScopeDisposed
	}

	clientID := s.signaler.ClientID()
	if clientID == "" {
		clientID = localClientID
	}

	evt, err := s.stamp(eventName, clientID, payload)
	if err != nil {
		return liveevent.RawEvent{}, err
	}

	s.emit(evt, true)
	return evt, nil
}

// OnEvent registers callback for eventName.
func (s *Scope) OnEvent(eventName string, callback Listener) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := Subscription{eventName: eventName, id: s.nextID}
	if s.disposed {
		return sub
	}
	s.listeners[eventName] = append(s.listeners[eventName], listener{id: sub.id, callback: callback})
	return sub
}

// OffEvent removes a listener. It reports whether the listener was registered.
func (s *Scope) OffEvent(sub Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.listeners[sub.eventName]
	for i, l := range list {
		if l.id == sub.id {
			s.listeners[sub.eventName] = append(list[:i:i], list[i+1:]...)
			if len(s.listeners[sub.eventName]) == 0 {
				delete(s.listeners, sub.eventName)
			}
			return true
		}
	}
	return false
}

// ListenerCount returns the number of listeners registered for eventName.
func (s *Scope) ListenerCount(eventName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners[eventName])
}

// Dispose removes every listener, stops receiving signals and cancels pending
// verifications. Safe to call more than once.
func (s *Scope) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.listeners = make(map[string][]listener)
	s.queues = make(map[string]*senderQueue)
	s.mu.Unlock()

	s.cancel()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Disposed reports whether Dispose has been called.
func (s *Scope) Disposed() bool {
	return s.isDisposed()
}

func (s *Scope) isDisposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}

func (s *Scope) stamp(eventName, clientID string, payload any) (liveevent.RawEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return liveevent.RawEvent{}, fmt.Errorf("failed to encode %q payload: %w", eventName, err)
	}
	return liveevent.RawEvent{
		Name:      eventName,
		Timestamp: s.clock.GetTimestamp(),
		ClientID:  clientID,
		Data:      data,
	}, nil
}

// handleSignal receives every signal from the signaler.
func (s *Scope) handleSignal(msg signaling.Message, local bool) {
	eventName, ok := strings.CutPrefix(msg.Type, s.prefix)
	if !ok || eventName == "" {
		return
	}

	var evt liveevent.RawEvent
	if err := json.Unmarshal(msg.Content, &evt); err != nil {
		s.logger.Warn("dropping malformed signal", "event", eventName, "client_id", msg.ClientID, "error", err)
		return
	}
	evt.Name = eventName

	// The transport attests the sender; an envelope claiming another client is spoofed.
	if msg.ClientID != "" && evt.ClientID != msg.ClientID {
		s.logger.Warn("dropping event with mismatched sender",
			"event", eventName, "transport_client_id", msg.ClientID, "claimed_client_id", evt.ClientID)
		s.denied(evt, fmt.Errorf("%w: sender mismatch", liveevent.ErrRoleVerificationDenied))
		return
	}

	if local {
		s.emit(evt, true)
		return
	}
	s.enqueue(evt)
}

func (s *Scope) enqueue(evt liveevent.RawEvent) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	q, ok := s.queues[evt.ClientID]
	if !ok {
		q = &senderQueue{}
		s.queues[evt.ClientID] = q
	}
	q.pending = append(q.pending, evt)
	if q.draining {
		s.mu.Unlock()
		return
	}
	q.draining = true
	s.mu.Unlock()

	go s.drain(evt.ClientID, q)
}

// drain delivers one sender's queued events in arrival order.
func (s *Scope) drain(clientID string, q *senderQueue) {
	for {
		s.mu.Lock()
		if s.disposed || len(q.pending) == 0 {
			q.draining = false
			if len(q.pending) == 0 && s.queues[clientID] == q {
				delete(s.queues, clientID)
			}
			s.mu.Unlock()
			return
		}
		evt := q.pending[0]
		q.pending = q.pending[1:]
		s.mu.Unlock()

		if s.verify(evt) {
			s.emit(evt, false)
		}
	}
}

func (s *Scope) rolesFor(eventName string) []liveevent.Role {
	if roles, ok := s.eventRoles[eventName]; ok {
		return roles
	}
	return s.allowedRoles
}

func (s *Scope) verify(evt liveevent.RawEvent) bool {
	roles := s.rolesFor(evt.Name)
	if len(roles) == 0 {
		return true
	}
	if s.verifier == nil {
		s.denied(evt, fmt.Errorf("%w: no role verifier configured", liveevent.ErrRoleVerificationDenied))
		return false
	}

	allowed, err := s.verifier.VerifyRolesAllowed(s.ctx, evt.ClientID, roles)
	if err != nil {
		s.logger.Warn("role verification failed", "event", evt.Name, "client_id", evt.ClientID, "error", err)
		s.denied(evt, fmt.Errorf("%w: %w", liveevent.ErrRoleVerificationDenied, err))
		return false
	}
	if !allowed {
		s.denied(evt, liveevent.ErrRoleVerificationDenied)
		return false
	}
	return true
}

func (s *Scope) denied(evt liveevent.RawEvent, err error) {
	s.logger.Debug("event dropped", "event", evt.Name, "client_id", evt.ClientID, "reason", err)
	if s.onDenied != nil && !s.isDisposed() {
		s.onDenied(evt, err)
	}
}

func (s *Scope) emit(evt liveevent.RawEvent, local bool) {
	s.mu.RLock()
	if s.disposed {
		s.mu.RUnlock()
		return
	}
	list := append([]listener(nil), s.listeners[evt.Name]...)
	s.mu.RUnlock()

	for _, l := range list {
		if s.isDisposed() {
			return
		}
		l.callback(evt, local)
	}
}
