// Package runtime is the composition root that owns a client's signaler, clock,
// role verifier, event scopes and synchronizers.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/internal/eventscope"
	"github.com/rmacdonaldsmith/livesync-go/internal/roles"
	"github.com/rmacdonaldsmith/livesync-go/internal/synchronizer"
	"github.com/rmacdonaldsmith/livesync-go/internal/timestamp"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveruntime"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

var (
	// ErrRuntimeClosed is returned when using a closed runtime
	ErrRuntimeClosed = errors.New("runtime closed")
	// ErrDuplicateObject is returned when an object id is already registered
	ErrDuplicateObject = errors.New("object already registered")
	// ErrUnknownKind is returned when creating an object of an unregistered kind
	ErrUnknownKind = errors.New("unknown object kind")
	// ErrDuplicateKind is returned when registering a kind twice
	ErrDuplicateKind = errors.New("object kind already registered")
)

// runningSynchronizer is the type-erased view of a Synchronizer[T] kept by the runtime.
type runningSynchronizer interface {
	Start(ctx context.Context, interval time.Duration) error
	Stop()
	Remove(clientID string) bool
	Status() synchronizer.Status
}

// invalidator is implemented by role verifiers that cache roles.
type invalidator interface {
	Invalidate(clientID string)
}

// Option configures a Runtime
type Option func(*Runtime)

// WithLogger sets the runtime's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTimestampProvider replaces the default local clock.
func WithTimestampProvider(clock liveevent.TimestampProvider) Option {
	return func(r *Runtime) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRoleVerifier replaces the default verifier, which knows no clients.
func WithRoleVerifier(verifier liveevent.RoleVerifier) Option {
	return func(r *Runtime) {
		if verifier != nil {
			r.verifier = verifier
		}
	}
}

// WithRegistry sets the registry used by CreateObject.
func WithRegistry(registry *Registry) Option {
	return func(r *Runtime) {
		if registry != nil {
			r.registry = registry
		}
	}
}

// Runtime owns the scopes and synchronizers of one client in one session.
type Runtime struct {
	mu     sync.RWMutex
	config *Config

	signaler signaling.Signaler
	clock    liveevent.TimestampProvider
	verifier liveevent.RoleVerifier
	registry *Registry
	logger   *slog.Logger

	scopes        map[string]*eventscope.Scope
	synchronizers map[string]runningSynchronizer
	objects       map[string]any

	startCtx    context.Context
	unsubscribe func()
	clientID    string
	started     bool
	closed      bool
}

// New creates a runtime around signaler. Call Start to connect.
func New(config *Config, signaler signaling.Signaler, opts ...Option) (*Runtime, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if signaler == nil {
		return nil, fmt.Errorf("signaler cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &Runtime{
		config:        config,
		signaler:      signaler,
		logger:        slog.New(slog.DiscardHandler),
		scopes:        make(map[string]*eventscope.Scope),
		synchronizers: make(map[string]runningSynchronizer),
		objects:       make(map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = timestamp.NewLocalTimestampProvider(config.MaxTimestampError)
	}
	if r.verifier == nil {
		r.verifier = roles.NewStaticRoleVerifier()
	}
	if r.registry == nil {
		r.registry = NewRegistry()
	}
	r.logger = r.logger.With("component", "runtime")

	return r, nil
}

// Start connects the signaler and starts every registered synchronizer.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRuntimeClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	connectCtx := ctx
	if r.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, r.config.ConnectTimeout)
		defer cancel()
	}
	clientID, err := r.signaler.Connect(connectCtx)
	if err != nil {
		return &liveevent.TransportError{Op: "connect", Err: err}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRuntimeClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.clientID = clientID
	r.started = true
	r.startCtx = context.WithoutCancel(ctx)
	r.unsubscribe = r.signaler.OnSignal(r.handleSignal)
	pending := r.synchronizerList()
	r.mu.Unlock()

	for _, s := range pending {
		if err := s.Start(r.startCtx, r.config.Synchronizer.UpdateInterval); err != nil {
			r.logger.Warn("failed to start synchronizer", "error", err)
		}
	}

	r.logger.Info("runtime started", "client_id", clientID, "synchronizers", len(pending))
	return nil
}

// Close disposes every scope and synchronizer and closes the signaler. Safe to call
// more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	syncs := r.synchronizerList()
	scopes := make([]*eventscope.Scope, 0, len(r.scopes))
	for _, s := range r.scopes {
		scopes = append(scopes, s)
	}
	objects := make([]any, 0, len(r.objects))
	for _, o := range r.objects {
		objects = append(objects, o)
	}
	unsubscribe := r.unsubscribe
	r.scopes = make(map[string]*eventscope.Scope)
	r.synchronizers = make(map[string]runningSynchronizer)
	r.objects = make(map[string]any)
	r.mu.Unlock()

	for _, s := range syncs {
		s.Stop()
	}
	for _, s := range scopes {
		s.Dispose()
	}
	if unsubscribe != nil {
		unsubscribe()
	}

	var errs []error
	for _, o := range objects {
		if c, ok := o.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := r.signaler.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close signaler: %w", err))
	}

	r.logger.Info("runtime closed")
	return errors.Join(errs...)
}

// ClientID returns the local client id, or "" before Start succeeds.
func (r *Runtime) ClientID() string {
	return r.signaler.ClientID()
}

// TimestampProvider returns the clock shared by every scope.
func (r *Runtime) TimestampProvider() liveevent.TimestampProvider {
	return r.clock
}

// RoleVerifier returns the verifier shared by every scope.
func (r *Runtime) RoleVerifier() liveevent.RoleVerifier {
	return r.verifier
}

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

// Config returns the runtime configuration.
func (r *Runtime) Config() *Config {
	return r.config
}

// CreateScope creates a scope owned by the runtime for objectID. Remote senders must
// hold one of allowedRoles; none admits everyone.
func (r *Runtime) CreateScope(objectID string, allowedRoles ...liveevent.Role) (*eventscope.Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createScopeLocked(objectID, allowedRoles)
}

func (r *Runtime) createScopeLocked(objectID string, allowedRoles []liveevent.Role) (*eventscope.Scope, error) {
	if r.closed {
		return nil, ErrRuntimeClosed
	}
	if _, ok := r.scopes[objectID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateObject, objectID)
	}

	logger := r.logger.With("object_id", objectID)
	scope, err := eventscope.New(objectID, r.signaler, r.clock, r.verifier,
		eventscope.WithLogger(logger),
		eventscope.WithAllowedRoles(allowedRoles...),
		eventscope.WithDeniedHook(func(evt liveevent.RawEvent, err error) {
			logger.Info("event denied", "event", evt.Name, "client_id", evt.ClientID, "reason", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scope %s: %w", objectID, err)
	}
	r.scopes[objectID] = scope
	return scope, nil
}

// Scope returns the scope registered for objectID.
func (r *Runtime) Scope(objectID string) (*eventscope.Scope, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scopes[objectID]
	return s, ok
}

// RegisterSynchronizer creates a scope and a synchronizer for holder under objectID.
// The synchronizer starts with the runtime, or immediately if the runtime is started.
func RegisterSynchronizer[T any](r *Runtime, objectID string, holder synchronizer.StateHolder[T], allowedRoles ...liveevent.Role) (*synchronizer.Synchronizer[T], error) {
	r.mu.Lock()
	scope, err := r.createScopeLocked(objectID, allowedRoles)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	s, err := synchronizer.New(scope, r.clock, holder, r.config.Synchronizer, scope.Logger())
	if err != nil {
		delete(r.scopes, objectID)
		r.mu.Unlock()
		scope.Dispose()
		return nil, err
	}
	r.synchronizers[objectID] = s
	started := r.started
	startCtx := r.startCtx
	r.mu.Unlock()

	if started {
		if err := s.Start(startCtx, r.config.Synchronizer.UpdateInterval); err != nil {
			return nil, fmt.Errorf("failed to start synchronizer %s: %w", objectID, err)
		}
	}
	return s, nil
}

// Unregister stops and disposes everything the runtime holds for objectID and closes
// the object when it implements io.Closer. It reports whether anything was registered.
func (r *Runtime) Unregister(objectID string) bool {
	return r.unregister(objectID, nil)
}

// UnregisterSynchronizer behaves like Unregister but only while s is the synchronizer
// registered under objectID, so a closed object never releases an id reused since.
func (r *Runtime) UnregisterSynchronizer(objectID string, s any) bool {
	return r.unregister(objectID, func(current runningSynchronizer) bool {
		return any(current) == s
	})
}

func (r *Runtime) unregister(objectID string, owns func(runningSynchronizer) bool) bool {
	r.mu.Lock()
	s, hasSync := r.synchronizers[objectID]
	if owns != nil && (!hasSync || !owns(s)) {
		r.mu.Unlock()
		return false
	}
	scope, hasScope := r.scopes[objectID]
	obj, hasObject := r.objects[objectID]
	delete(r.synchronizers, objectID)
	delete(r.scopes, objectID)
	delete(r.objects, objectID)
	r.mu.Unlock()

	if hasSync {
		s.Stop()
	}
	if hasScope {
		scope.Dispose()
	}
	// The id is already released, so a Close that calls back into Unregister is a no-op
	if c, ok := obj.(io.Closer); hasObject && ok {
		if err := c.Close(); err != nil {
			r.logger.Warn("failed to close object", "object_id", objectID, "error", err)
		}
	}
	if hasSync || hasScope || hasObject {
		r.logger.Debug("object unregistered", "object_id", objectID)
	}
	return hasSync || hasScope || hasObject
}

// CreateObject builds an object of kind through the registry and attaches it under objectID.
func (r *Runtime) CreateObject(ctx context.Context, kind, objectID string) (any, error) {
	ctor, ok := r.registry.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	r.mu.RLock()
	closed := r.closed
	_, hasObject := r.objects[objectID]
	_, hasScope := r.scopes[objectID]
	exists := hasObject || hasScope
	r.mu.RUnlock()
	if closed {
		return nil, ErrRuntimeClosed
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateObject, objectID)
	}

	obj, err := ctor(ctx, r, objectID)
	if err != nil {
		r.Unregister(objectID)
		return nil, fmt.Errorf("failed to create %s %s: %w", kind, objectID, err)
	}

	r.mu.Lock()
	r.objects[objectID] = obj
	r.mu.Unlock()

	r.logger.Debug("object created", "kind", kind, "object_id", objectID)
	return obj, nil
}

// Object returns the object created for objectID.
func (r *Runtime) Object(objectID string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[objectID]
	return o, ok
}

// ClientDisconnected removes clientID's state from every synchronizer.
func (r *Runtime) ClientDisconnected(clientID string) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	syncs := r.synchronizerList()
	r.mu.RUnlock()

	if inv, ok := r.verifier.(invalidator); ok {
		inv.Invalidate(clientID)
	}
	removed := 0
	for _, s := range syncs {
		if s.Remove(clientID) {
			removed++
		}
	}
	r.logger.Debug("client disconnected", "client_id", clientID, "entries_removed", removed)
}

// GetHealth returns the runtime's current status.
func (r *Runtime) GetHealth(ctx context.Context) (liveruntime.HealthStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clientID := r.signaler.ClientID()
	status := liveruntime.HealthStatus{
		Healthy:       r.started && !r.closed,
		Connected:     clientID != "",
		ClientID:      clientID,
		Scopes:        len(r.scopes),
		Synchronizers: len(r.synchronizers),
		Objects:       len(r.objects),
	}
	switch {
	case r.closed:
		status.Message = "runtime closed"
	case !r.started:
		status.Message = "runtime not started"
	case !status.Connected:
		status.Healthy = false
		status.Message = "signaler disconnected"
	default:
		status.Message = "ok"
	}
	return status, nil
}

// handleSignal reacts to session-level signals emitted by the relay.
func (r *Runtime) handleSignal(msg signaling.Message, local bool) {
	if msg.Type != signaling.DisconnectedType {
		return
	}
	var notice signaling.DisconnectedNotice
	if err := json.Unmarshal(msg.Content, &notice); err != nil || notice.ClientID == "" {
		r.logger.Warn("malformed disconnect notice", "error", err)
		return
	}
	if notice.ClientID == r.signaler.ClientID() {
		return
	}
	r.ClientDisconnected(notice.ClientID)
}

// synchronizerList must be called with r.mu held.
func (r *Runtime) synchronizerList() []runningSynchronizer {
	ids := make([]string, 0, len(r.synchronizers))
	for id := range r.synchronizers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]runningSynchronizer, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.synchronizers[id])
	}
	return out
}

var _ liveruntime.Runtime = (*Runtime)(nil)
