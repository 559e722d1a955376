// Package relay fans signals out to every client connected to a session and keeps
// the session roster.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rmacdonaldsmith/livesync-go/internal/roles"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

var (
	// ErrHubClosed is returned when using a closed hub
	ErrHubClosed = errors.New("relay hub closed")
	// ErrAlreadyConnected is returned when a client id joins twice
	ErrAlreadyConnected = errors.New("client already connected")
	// ErrNotMember is returned when a non-member submits a signal
	ErrNotMember = errors.New("client is not connected")
	// ErrRateLimited is returned when a client exceeds its signal rate
	ErrRateLimited = errors.New("signal rate exceeded")
	// ErrContentTooLarge is returned when a signal exceeds the size limit
	ErrContentTooLarge = errors.New("signal content too large")
	// ErrEmptySignalType is returned when a signal has no type
	ErrEmptySignalType = errors.New("signal type cannot be empty")
)

// Connection is one client's delivery endpoint. Deliver must not block; transports
// queue the message and report an error when the queue is full.
type Connection interface {
	Deliver(msg signaling.Message) error
}

// Member describes a connected client.
type Member struct {
	ClientID    string           `json:"clientId"`
	Roles       []liveevent.Role `json:"roles"`
	ConnectedAt time.Time        `json:"connectedAt"`
}

// Stats are cumulative hub counters.
type Stats struct {
	ConnectedClients int    `json:"connectedClients"`
	TotalJoins       uint64 `json:"totalJoins"`
	SignalsRelayed   uint64 `json:"signalsRelayed"`
	DeliveriesFailed uint64 `json:"deliveriesFailed"`
	RateLimited      uint64 `json:"rateLimited"`
	Rejected         uint64 `json:"rejected"`
}

type member struct {
	clientID    string
	conn        Connection
	roles       []liveevent.Role
	limiter     *rate.Limiter
	connectedAt time.Time
}

// Hub relays signals between the members of one session.
type Hub struct {
	config Config
	logger *slog.Logger

	mu      sync.RWMutex
	members map[string]*member
	closed  bool

	joins       atomic.Uint64
	relayed     atomic.Uint64
	failed      atomic.Uint64
	rateLimited atomic.Uint64
	rejected    atomic.Uint64
}

// NewHub creates a hub. A nil logger discards logs.
func NewHub(config Config, logger *slog.Logger) (*Hub, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		config:  config,
		logger:  logger.With("component", "relay"),
		members: make(map[string]*member),
	}, nil
}

// Config returns the effective configuration.
func (h *Hub) Config() Config {
	return h.config
}

// Join adds conn to the session as clientID with the roles attested for it.
func (h *Hub) Join(clientID string, conn Connection, roles []liveevent.Role) error {
	if clientID == "" {
		return fmt.Errorf("client id cannot be empty")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if _, ok := h.members[clientID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, clientID)
	}
	h.members[clientID] = &member{
		clientID:    clientID,
		conn:        conn,
		roles:       append([]liveevent.Role(nil), roles...),
		limiter:     rate.NewLimiter(rate.Limit(h.config.SignalsPerSecond), h.config.Burst),
		connectedAt: time.Now(),
	}
	h.joins.Add(1)
	h.logger.Info("client joined", "client_id", clientID, "roles", roles, "members", len(h.members))
	return nil
}

// Leave removes clientID's conn and tells the remaining members. A stale connection
// whose id has been taken over by a newer one is ignored.
func (h *Hub) Leave(clientID string, conn Connection) {
	h.mu.Lock()
	m, ok := h.members[clientID]
	if !ok || m.conn != conn {
		h.mu.Unlock()
		return
	}
	delete(h.members, clientID)
	remaining := h.recipientsLocked()
	h.mu.Unlock()

	h.logger.Info("client left", "client_id", clientID, "members", len(remaining))

	content, err := json.Marshal(signaling.DisconnectedNotice{ClientID: clientID})
	if err != nil {
		h.logger.Error("failed to encode disconnect notice", "error", err)
		return
	}
	h.deliver(remaining, signaling.Message{Type: signaling.DisconnectedType, Content: content})
}

// Broadcast relays a signal from a member to every member, the sender included.
func (h *Hub) Broadcast(ctx context.Context, from, signalType string, content []byte) error {
	if signalType == "" {
		h.rejected.Add(1)
		return ErrEmptySignalType
	}
	if len(content) > h.config.MaxContentBytes {
		h.rejected.Add(1)
		return fmt.Errorf("%w: %d bytes, limit %d", ErrContentTooLarge, len(content), h.config.MaxContentBytes)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	sender, ok := h.members[from]
	if !ok {
		h.mu.RUnlock()
		h.rejected.Add(1)
		return fmt.Errorf("%w: %s", ErrNotMember, from)
	}
	if !sender.limiter.Allow() {
		h.mu.RUnlock()
		h.rateLimited.Add(1)
		h.logger.Debug("signal rate limited", "client_id", from, "type", signalType)
		return fmt.Errorf("%w: %s", ErrRateLimited, from)
	}
	recipients := h.recipientsLocked()
	h.mu.RUnlock()

	h.relayed.Add(1)
	h.deliver(recipients, signaling.Message{ClientID: from, Type: signalType, Content: content})
	return nil
}

// GetClientRoles returns the roles of a connected client, or liveevent.ErrClientNotFound.
func (h *Hub) GetClientRoles(ctx context.Context, clientID string) ([]liveevent.Role, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", liveevent.ErrClientNotFound, clientID)
	}
	return append([]liveevent.Role(nil), m.roles...), nil
}

// Members returns the roster ordered by client id.
func (h *Hub) Members() []Member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Member, 0, len(h.members))
	for id, m := range h.members {
		out = append(out, Member{
			ClientID:    id,
			Roles:       append([]liveevent.Role(nil), m.roles...),
			ConnectedAt: m.connectedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Stats returns the hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	connected := len(h.members)
	h.mu.RUnlock()

	return Stats{
		ConnectedClients: connected,
		TotalJoins:       h.joins.Load(),
		SignalsRelayed:   h.relayed.Load(),
		DeliveriesFailed: h.failed.Load(),
		RateLimited:      h.rateLimited.Load(),
		Rejected:         h.rejected.Load(),
	}
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close drops every member. Safe to call more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.members = make(map[string]*member)
	return nil
}

func (h *Hub) recipientsLocked() []*member {
	out := make([]*member, 0, len(h.members))
	for _, m := range h.members {
		out = append(out, m)
	}
	return out
}

func (h *Hub) deliver(recipients []*member, msg signaling.Message) {
	for _, m := range recipients {
		if err := m.conn.Deliver(msg); err != nil {
			h.failed.Add(1)
			h.logger.Warn("delivery failed", "client_id", m.clientID, "type", msg.Type, "error", err)
		}
	}
}

var _ roles.RoleHost = (*Hub)(nil)
