package httpclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the relay HTTP API (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Roles requested at login
	Roles []liveevent.Role

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries for idempotent requests that fail in transport or with a 5xx
	MaxRetries int
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string           `json:"clientId"`
	Roles    []liveevent.Role `json:"roles,omitempty"`
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string           `json:"token"`
	ClientID  string           `json:"clientId"`
	Roles     []liveevent.Role `json:"roles,omitempty"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// Member is one connected client on the relay
type Member struct {
	ClientID    string           `json:"clientId"`
	Roles       []liveevent.Role `json:"roles"`
	ConnectedAt time.Time        `json:"connectedAt"`
}

// ClientsResponse lists the session roster
type ClientsResponse struct {
	Clients []Member `json:"clients"`
}

// RolesResponse carries the roles of one client
type RolesResponse struct {
	ClientID string           `json:"clientId"`
	Roles    []liveevent.Role `json:"roles"`
}

// TimeResponse carries the server clock
type TimeResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// AdminStatsResponse represents relay statistics
type AdminStatsResponse struct {
	ConnectedClients int    `json:"connectedClients"`
	TotalJoins       uint64 `json:"totalJoins"`
	SignalsRelayed   uint64 `json:"signalsRelayed"`
	DeliveriesFailed uint64 `json:"deliveriesFailed"`
	RateLimited      uint64 `json:"rateLimited"`
	Rejected         uint64 `json:"rejected"`
	Uptime           string `json:"uptime"`
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

// APIError is returned for responses with a 4xx or 5xx status
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// SignalFrame is one JSON message on the signal websocket
type SignalFrame struct {
	Kind     string          `json:"kind,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Type     string          `json:"type,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
	Message  string          `json:"message,omitempty"`
}
