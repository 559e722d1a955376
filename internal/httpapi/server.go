// Package httpapi serves the relay's REST endpoints and the websocket signal transport.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/internal/auth"
	"github.com/rmacdonaldsmith/livesync-go/internal/relay"
)

// Server represents the HTTP API server
type Server struct {
	hub        *relay.Hub
	jwtAuth    *auth.JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *slog.Logger
}

// Config holds server configuration
type Config struct {
	Port   string `yaml:"port" env:"PORT"`
	NoAuth bool   `yaml:"no_auth" env:"NO_AUTH"`
}

// NewServer creates a new HTTP API server
func NewServer(hub *relay.Hub, jwtAuth *auth.JWTAuth, config Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "httpapi")
	if config.NoAuth {
		logger.Warn("authentication disabled for client endpoints")
	}

	server := &Server{
		hub:        hub,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(hub, jwtAuth, logger),
		middleware: NewMiddleware(jwtAuth, logger, config.NoAuth),
		logger:     logger,
	}

	server.server = &http.Server{
		Addr:           ":" + config.Port,
		Handler:        server.setupRoutes(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return server
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("http api listening", "address", s.server.Addr)
	return s.server.ListenAndServe()
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("http api listening", "address", lis.Addr().String())
	err := s.server.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	// Authentication and clock (no auth required)
	mux.Handle("POST /api/v1/auth/login", withMiddleware(s.handlers.Login))
	mux.Handle("GET /api/v1/time", withMiddleware(s.handlers.ServerTime))

	// Roster (auth required)
	mux.Handle("GET /api/v1/clients", withMiddleware(s.middleware.AuthRequired(s.handlers.ListClients)))
	mux.Handle("GET /api/v1/clients/{id}/roles", withMiddleware(s.middleware.AuthRequired(s.handlers.ClientRoles)))

	// Signal transport (auth required)
	mux.Handle("GET /api/v1/signal/ws", withMiddleware(s.middleware.AuthRequired(s.handlers.SignalSocket)))

	// Admin endpoints (admin auth required)
	mux.Handle("GET /api/v1/admin/clients", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminListClients)))
	mux.Handle("GET /api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminGetStats)))

	// Health endpoint (no auth required)
	mux.Handle("GET /api/v1/health", withMiddleware(s.handlers.Health))

	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]any{
		"service":     "LiveSync relay",
		"version":     "1.0.0",
		"description": "Session relay for live events and shared ephemeral state",
		"endpoints": map[string]any{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"clients": map[string]string{
				"list":  "GET /api/v1/clients",
				"roles": "GET /api/v1/clients/{id}/roles",
			},
			"signal": "GET /api/v1/signal/ws",
			"time":   "GET /api/v1/time",
			"admin": map[string]string{
				"clients": "GET /api/v1/admin/clients",
				"stats":   "GET /api/v1/admin/stats",
			},
			"health": "GET /api/v1/health",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
