package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/internal/auth"
	"github.com/rmacdonaldsmith/livesync-go/internal/relay"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

var knownRoles = []liveevent.Role{
	liveevent.RoleOrganizer,
	liveevent.RolePresenter,
	liveevent.RoleAttendee,
	liveevent.RoleGuest,
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	hub     *relay.Hub
	jwtAuth *auth.JWTAuth
	logger  *slog.Logger
	now     func() time.Time
	started time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(hub *relay.Hub, jwtAuth *auth.JWTAuth, logger *slog.Logger) *Handlers {
	return &Handlers{
		hub:     hub,
		jwtAuth: jwtAuth,
		logger:  logger,
		now:     time.Now,
		started: time.Now(),
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Client-asserted identity; a deployment fronts this with its own identity provider
	isAdmin := req.ClientID == "admin"

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin, req.Roles...)
	if err != nil {
		h.logger.Error("failed to generate token", "client_id", req.ClientID, "error", err)
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		Roles:     req.Roles,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Roster endpoints

// ListClients handles GET /api/v1/clients
func (h *Handlers) ListClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, ClientsResponse{Clients: h.hub.Members()}, http.StatusOK)
}

// ClientRoles handles GET /api/v1/clients/{id}/roles
func (h *Handlers) ClientRoles(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("id")
	if clientID == "" {
		writeError(w, "Client ID required", http.StatusBadRequest)
		return
	}

	roles, err := h.hub.GetClientRoles(r.Context(), clientID)
	if errors.Is(err, liveevent.ErrClientNotFound) {
		writeError(w, fmt.Sprintf("Client %s is not connected", clientID), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "Failed to get client roles", http.StatusInternalServerError)
		return
	}
	if roles == nil {
		roles = []liveevent.Role{}
	}

	writeJSON(w, RolesResponse{ClientID: clientID, Roles: roles}, http.StatusOK)
}

// ServerTime handles GET /api/v1/time
func (h *Handlers) ServerTime(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, TimeResponse{Timestamp: h.now().UnixMilli()}, http.StatusOK)
}

// Admin endpoints

// AdminListClients handles GET /api/v1/admin/clients
func (h *Handlers) AdminListClients(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}
	writeJSON(w, ClientsResponse{Clients: h.hub.Members()}, http.StatusOK)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}
	writeJSON(w, AdminStatsResponse{
		Stats:  h.hub.Stats(),
		Uptime: h.now().Sub(h.started).Round(time.Second).String(),
	}, http.StatusOK)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Healthy:          !h.hub.Closed(),
		ConnectedClients: h.hub.Stats().ConnectedClients,
		Message:          "ok",
	}

	statusCode := http.StatusOK
	if !resp.Healthy {
		resp.Message = "relay closed"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, resp, statusCode)
}

// Helper methods

// validateJSON validates that the request has valid JSON content-type
func (h *Handlers) validateJSON(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func (h *Handlers) validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return fmt.Errorf("clientId must be at least 2 characters")
	}
	for _, role := range req.Roles {
		if !slices.Contains(knownRoles, role) {
			return fmt.Errorf("unknown role %q", role)
		}
	}
	return nil
}
