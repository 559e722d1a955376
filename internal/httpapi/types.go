package httpapi

import (
	"encoding/json"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/internal/relay"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string           `json:"clientId"`
	Roles    []liveevent.Role `json:"roles,omitempty"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string           `json:"token"`
	ClientID  string           `json:"clientId"`
	Roles     []liveevent.Role `json:"roles,omitempty"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// ClientsResponse lists the session roster
type ClientsResponse struct {
	Clients []relay.Member `json:"clients"`
}

// RolesResponse carries the roles of one client
type RolesResponse struct {
	ClientID string           `json:"clientId"`
	Roles    []liveevent.Role `json:"roles"`
}

// TimeResponse carries the server clock in milliseconds since the Unix epoch
type TimeResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// AdminStatsResponse represents relay statistics
type AdminStatsResponse struct {
	relay.Stats
	Uptime string `json:"uptime"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy          bool   `json:"healthy"`
	ConnectedClients int    `json:"connectedClients"`
	Message          string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Frame kinds on the signal websocket
const (
	FrameWelcome = "welcome"
	FrameSignal  = "signal"
	FrameError   = "error"
)

// SignalFrame is one JSON message on the signal websocket. Clients send only
// Type and Content; the server fills ClientID from the authenticated token.
type SignalFrame struct {
	Kind     string          `json:"kind,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Type     string          `json:"type,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
	Message  string          `json:"message,omitempty"`
}
