// Package presence tracks which clients are in a session and what they share about
// themselves, on top of a synchronizer.
package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rmacdonaldsmith/livesync-go/internal/runtime"
	"github.com/rmacdonaldsmith/livesync-go/internal/synchronizer"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// Kind is the registry kind under which presence objects are registered
const Kind = "presence"

// State is a user's presence state.
type State string

const (
	StateOnline  State = "online"
	StateAway    State = "away"
	StateOffline State = "offline"
)

// Valid reports whether s is a known presence state.
func (s State) Valid() bool {
	switch s {
	case StateOnline, StateAway, StateOffline:
		return true
	}
	return false
}

// Update is what each client broadcasts about itself.
type Update[T any] struct {
	State State `json:"state"`
	Data  T     `json:"data"`
}

// User is one client's presence as seen locally.
type User[T any] struct {
	ClientID    string
	State       State
	Data        T
	LastUpdated int64
	Local       bool
}

// ChangeHandler is invoked after a user's presence changes.
type ChangeHandler[T any] func(user User[T], local bool)

// Presence is a synchronized set of users keyed by client id.
type Presence[T any] struct {
	rt       *runtime.Runtime
	objectID string
	sync     *synchronizer.Synchronizer[Update[T]]

	mu       sync.RWMutex
	local    *Update[T]
	updated  int64
	users    map[string]User[T]
	handlers map[uint64]ChangeHandler[T]
	nextID   uint64
	closed   bool
}

// New attaches a presence object to rt under objectID. Remote updates are accepted only
// from clients holding one of allowedRoles; none admits everyone.
func New[T any](rt *runtime.Runtime, objectID string, allowedRoles ...liveevent.Role) (*Presence[T], error) {
	p := &Presence[T]{
		rt:       rt,
		objectID: objectID,
		users:    make(map[string]User[T]),
		handlers: make(map[uint64]ChangeHandler[T]),
	}
	s, err := runtime.RegisterSynchronizer[Update[T]](rt, objectID, &holder[T]{p: p}, allowedRoles...)
	if err != nil {
		return nil, fmt.Errorf("failed to register presence %s: %w", objectID, err)
	}
	p.sync = s
	return p, nil
}

// RegisterKind makes presence objects with payload T constructible through registry.
func RegisterKind[T any](registry *runtime.Registry, kind string) error {
	return registry.Register(kind, func(ctx context.Context, rt *runtime.Runtime, objectID string) (any, error) {
		return New[T](rt, objectID)
	})
}

// ObjectID returns the id the presence object is registered under.
func (p *Presence[T]) ObjectID() string {
	return p.objectID
}

// UpdatePresence sets the local user's state and broadcasts it right away when the
// synchronizer is running.
func (p *Presence[T]) UpdatePresence(ctx context.Context, state State, data T) error {
	if !state.Valid() {
		return fmt.Errorf("invalid presence state %q", state)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("presence %s is closed", p.objectID)
	}
	p.local = &Update[T]{State: state, Data: data}
	p.updated = p.rt.TimestampProvider().GetTimestamp()
	user := p.localUserLocked()
	p.mu.Unlock()

	p.notify(user, true)

	if p.sync.Status() != synchronizer.StatusRunning {
		return nil
	}
	return p.sync.Flush(ctx)
}

// LocalUser returns the local user's presence, if it has been set.
func (p *Presence[T]) LocalUser() (User[T], bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.local == nil {
		return User[T]{}, false
	}
	return p.localUserLocked(), true
}

// User returns the presence of clientID.
func (p *Presence[T]) User(clientID string) (User[T], bool) {
	if local, ok := p.LocalUser(); ok && local.ClientID == clientID {
		return local, true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[clientID]
	return u, ok
}

// Users returns every known user, the local one included, ordered by client id.
func (p *Presence[T]) Users() []User[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]User[T], 0, len(p.users)+1)
	if p.local != nil {
		out = append(out, p.localUserLocked())
	}
	for _, u := range p.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// OnlineUsers returns the users whose state is online.
func (p *Presence[T]) OnlineUsers() []User[T] {
	var out []User[T]
	for _, u := range p.Users() {
		if u.State == StateOnline {
			out = append(out, u)
		}
	}
	return out
}

// OnPresenceChanged registers handler and returns a function that removes it.
func (p *Presence[T]) OnPresenceChanged(handler ChangeHandler[T]) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.handlers, id)
		})
	}
}

// Close stops synchronizing and releases objectID in the runtime so it can be created
// again. Handlers are dropped.
func (p *Presence[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.handlers = make(map[uint64]ChangeHandler[T])
	p.mu.Unlock()

	p.sync.Stop()
	p.rt.UnregisterSynchronizer(p.objectID, p.sync)
	return nil
}

func (p *Presence[T]) localUserLocked() User[T] {
	clientID := p.rt.ClientID()
	if clientID == "" {
		clientID = "local"
	}
	return User[T]{
		ClientID:    clientID,
		State:       p.local.State,
		Data:        p.local.Data,
		LastUpdated: p.updated,
		Local:       true,
	}
}

func (p *Presence[T]) setRemote(user User[T]) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.users[user.ClientID] = user
	p.mu.Unlock()

	p.notify(user, false)
}

func (p *Presence[T]) notify(user User[T], local bool) {
	p.mu.RLock()
	ids := make([]uint64, 0, len(p.handlers))
	for id := range p.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]ChangeHandler[T], 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, p.handlers[id])
	}
	p.mu.RUnlock()

	for _, h := range handlers {
		h(user, local)
	}
}

// holder adapts a Presence to the synchronizer's state holder contract.
type holder[T any] struct {
	p *Presence[T]
}

func (h *holder[T]) LocalState(connecting bool) (Update[T], bool, error) {
	h.p.mu.RLock()
	defer h.p.mu.RUnlock()
	if h.p.local == nil {
		return Update[T]{}, false, nil
	}
	return *h.p.local, true, nil
}

func (h *holder[T]) RemoteUpdated(state synchronizer.State[Update[T]]) {
	h.p.setRemote(User[T]{
		ClientID:    state.ClientID,
		State:       state.Data.State,
		Data:        state.Data.Data,
		LastUpdated: state.Timestamp,
	})
}

func (h *holder[T]) RemoteExpired(state synchronizer.State[Update[T]]) {
	h.p.setRemote(User[T]{
		ClientID:    state.ClientID,
		State:       StateOffline,
		Data:        state.Data.Data,
		LastUpdated: state.ExpiredAt,
	})
}

func (h *holder[T]) RemoteRemoved(clientID string) {
	h.p.mu.Lock()
	user, ok := h.p.users[clientID]
	delete(h.p.users, clientID)
	closed := h.p.closed
	h.p.mu.Unlock()
	if !ok || closed {
		return
	}

	user.State = StateOffline
	h.p.notify(user, false)
}
