// Package synchronizer reconciles ephemeral per-client state across peers.
package synchronizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/internal/eventscope"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

const (
	// ConnectEvent announces a client that just started synchronizing
	ConnectEvent = "connect"
	// UpdateEvent carries a client's periodic state broadcast
	UpdateEvent = "update"
)

// ErrHolderPanic wraps a panic recovered from a state holder callback
var ErrHolderPanic = errors.New("state holder panicked")

// Synchronizer reconciles per-client ephemeral state for one object across peers.
//
// Every tick it pulls the local state from its holder and broadcasts it when changed
// or when a keep-alive is due. Remote updates merge last-writer-wins on the clamped
// timestamp. Peers silent for longer than the expiration period plus the max clock
// error are marked expired once and kept until a newer update or an explicit Remove.
type Synchronizer[T any] struct {
	scope  *eventscope.Scope
	clock  liveevent.TimestampProvider
	holder StateHolder[T]
	config Config
	logger *slog.Logger

	connect *eventscope.EventSource[T]
	update  *eventscope.EventSource[T]

	ctx    context.Context
	cancel context.CancelFunc

	// inTick is set while the loop goroutine runs holder callbacks
	inTick atomic.Bool

	mu       sync.Mutex
	status   Status
	targets  []*eventscope.EventTarget[T]
	states   map[string]*State[T]
	lastSent []byte
	dirty    bool
	ticks    int
	done     chan struct{}
}

// New creates an idle synchronizer bound to scope. The scope stays owned by the caller.
func New[T any](scope *eventscope.Scope, clock liveevent.TimestampProvider, holder StateHolder[T], config Config, logger *slog.Logger) (*Synchronizer[T], error) {
	if scope == nil {
		return nil, fmt.Errorf("scope cannot be nil")
	}
	if clock == nil {
		return nil, fmt.Errorf("timestamp provider cannot be nil")
	}
	if holder == nil {
		return nil, fmt.Errorf("state holder cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid synchronizer config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer[T]{
		scope:   scope,
		clock:   clock,
		holder:  holder,
		config:  config,
		logger:  logger.With("component", "synchronizer", "scope", scope.Name()),
		connect: eventscope.NewEventSource[T](scope, ConnectEvent),
		update:  eventscope.NewEventSource[T](scope, UpdateEvent),
		states:  make(map[string]*State[T]),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Status returns the lifecycle state.
func (s *Synchronizer[T]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Config returns the effective configuration.
func (s *Synchronizer[T]) Config() Config {
	return s.config
}

// Start begins the reconciliation loop. interval overrides the configured update
// interval when positive. Starting a running synchronizer is a no-op; starting a
// stopped one fails with liveevent.ErrAlreadyStopped.
func (s *Synchronizer[T]) Start(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	switch s.status {
	case StatusRunning:
		s.mu.Unlock()
		return nil
	case StatusStopped:
		s.mu.Unlock()
		return liveevent.ErrAlreadyStopped
	}
	if interval <= 0 {
		interval = s.config.UpdateInterval
	}
	if keepAlive := interval * time.Duration(s.config.KeepAliveTicks); s.config.ExpirationPeriod <= keepAlive {
		s.mu.Unlock()
		return fmt.Errorf("%w: expiration %v, keep-alive every %v",
			ErrInvalidExpirationPeriod, s.config.ExpirationPeriod, keepAlive)
	}
	s.status = StatusRunning
	s.done = make(chan struct{})
	s.targets = []*eventscope.EventTarget[T]{
		eventscope.NewEventTarget(s.scope, ConnectEvent, s.onConnect),
		eventscope.NewEventTarget(s.scope, UpdateEvent, s.onUpdate),
	}
	s.mu.Unlock()

	if err := s.broadcast(ctx, true, true); err != nil {
		s.logger.Warn("initial connect broadcast failed, retrying on next tick", "error", err)
	}

	go s.run(interval)
	s.logger.Info("synchronizer started", "interval", interval)
	return nil
}

// Stop cancels the loop and stops receiving remote updates. Safe to call more than once,
// including from a holder callback.
func (s *Synchronizer[T]) Stop() {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return
	}
	wasRunning := s.status == StatusRunning
	s.status = StatusStopped
	done := s.done
	targets := s.targets
	s.mu.Unlock()

	s.cancel()
	for _, t := range targets {
		t.Dispose()
	}
	if !wasRunning {
		return
	}
	// Called from a holder callback on the loop goroutine, which would never close done
	if !s.inTick.Load() {
		<-done
	}
	s.logger.Info("synchronizer stopped")
}

// Close implements io.Closer.
func (s *Synchronizer[T]) Close() error {
	s.Stop()
	return nil
}

// Flush broadcasts the current local state immediately.
func (s *Synchronizer[T]) Flush(ctx context.Context) error {
	if s.Status() == StatusStopped {
		return liveevent.ErrAlreadyStopped
	}
	return s.broadcast(ctx, false, true)
}

// Remove deletes clientID's entry, typically after an explicit disconnect.
// It reports whether an entry existed.
func (s *Synchronizer[T]) Remove(clientID string) bool {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return false
	}
	_, ok := s.states[clientID]
	delete(s.states, clientID)
	s.mu.Unlock()

	if ok {
		s.logger.Debug("remote state removed", "client_id", clientID)
		s.safely("RemoteRemoved", func() { s.holder.RemoteRemoved(clientID) })
	}
	return ok
}

// States returns a snapshot of every remote entry ordered by client id.
func (s *Synchronizer[T]) States() []State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]State[T], 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// State returns the entry for clientID.
func (s *Synchronizer[T]) State(clientID string) (State[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[clientID]
	if !ok {
		return State[T]{}, false
	}
	return *st, true
}

func (s *Synchronizer[T]) run(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.inTick.Store(true)
			s.tick()
			s.inTick.Store(false)
		}
	}
}

func (s *Synchronizer[T]) tick() {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return
	}
	s.ticks++
	keepAlive := s.ticks%s.config.KeepAliveTicks == 0
	s.mu.Unlock()

	s.sweep()
	if err := s.broadcast(s.ctx, false, keepAlive); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("state broadcast failed", "error", err)
	}
}

// broadcast pulls the local state and sends it when changed, forced or left dirty
// by an earlier failed send.
func (s *Synchronizer[T]) broadcast(ctx context.Context, connecting, force bool) error {
	data, ok, err := s.pull(connecting)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode local state: %w", err)
	}

	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return nil
	}
	send := force || s.dirty || !bytes.Equal(encoded, s.lastSent)
	s.mu.Unlock()
	if !send {
		return nil
	}

	source := s.update
	if connecting {
		source = s.connect
	}
	if _, err := source.SendEvent(ctx, data); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("failed to send %s: %w", source.EventName(), err)
	}

	s.mu.Lock()
	s.lastSent = encoded
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func (s *Synchronizer[T]) pull(connecting bool) (data T, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: LocalState: %v", ErrHolderPanic, r)
		}
	}()
	data, ok, err = s.holder.LocalState(connecting)
	if err != nil {
		err = fmt.Errorf("failed to read local state: %w", err)
	}
	return data, ok, err
}

func (s *Synchronizer[T]) onConnect(evt liveevent.LiveEvent[T], local bool) {
	if local {
		return
	}
	s.merge(evt)

	// Late joiner: answer right away instead of waiting for the next tick
	if err := s.broadcast(s.ctx, false, true); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to answer connect", "client_id", evt.ClientID, "error", err)
	}
}

func (s *Synchronizer[T]) onUpdate(evt liveevent.LiveEvent[T], local bool) {
	if local {
		return
	}
	s.merge(evt)
}

// merge applies one remote update with last-writer-wins on the clamped timestamp.
func (s *Synchronizer[T]) merge(evt liveevent.LiveEvent[T]) {
	now := s.clock.GetTimestamp()
	effective := min(evt.Timestamp, now+s.clock.GetMaxTimestampError())
	incoming := liveevent.Stamp{Timestamp: effective, ClientID: evt.ClientID}

	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return
	}
	current, exists := s.states[evt.ClientID]
	if exists {
		if !liveevent.IsNewer(current.stamp(), incoming) {
			s.mu.Unlock()
			s.logger.Debug("ignoring stale update", "client_id", evt.ClientID,
				"timestamp", effective, "current", current.Timestamp)
			return
		}
		if current.Expired && effective <= current.ExpiredAt {
			s.mu.Unlock()
			s.logger.Debug("ignoring update older than expiry", "client_id", evt.ClientID,
				"timestamp", effective, "expired_at", current.ExpiredAt)
			return
		}
	}

	next := &State[T]{
		ClientID:            evt.ClientID,
		Data:                evt.Data,
		Timestamp:           effective,
		LastUpdateTimestamp: now,
	}
	s.states[evt.ClientID] = next
	snapshot := *next
	s.mu.Unlock()

	if exists && current.Expired {
		s.logger.Debug("remote state reactivated", "client_id", evt.ClientID)
	}
	s.safely("RemoteUpdated", func() { s.holder.RemoteUpdated(snapshot) })
}

// sweep marks entries that outlived the expiration window.
func (s *Synchronizer[T]) sweep() {
	now := s.clock.GetTimestamp()
	window := s.config.ExpirationPeriod.Milliseconds() + s.clock.GetMaxTimestampError()

	s.mu.Lock()
	var expired []State[T]
	for _, st := range s.states {
		if st.Expired || now-st.LastUpdateTimestamp <= window {
			continue
		}
		st.Expired = true
		st.ExpiredAt = now
		expired = append(expired, *st)
	}
	s.mu.Unlock()

	for _, st := range expired {
		if !s.stillExpired(st) {
			continue
		}
		s.logger.Debug("remote state expired", "client_id", st.ClientID, "last_update", st.LastUpdateTimestamp)
		s.safely("RemoteExpired", func() { s.holder.RemoteExpired(st) })
	}
}

// stillExpired reports whether st is still the expired entry sweep recorded.
func (s *Synchronizer[T]) stillExpired(st State[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusStopped {
		return false
	}
	current, ok := s.states[st.ClientID]
	return ok && current.Expired && current.ExpiredAt == st.ExpiredAt
}

func (s *Synchronizer[T]) safely(callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state holder callback panicked", "callback", callback, "panic", r)
		}
	}()
	fn()
}
