package httpapi

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/livesync-go/internal/auth"
	"github.com/rmacdonaldsmith/livesync-go/internal/relay"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Hub    *relay.Hub
	Server *Server
	Auth   *auth.JWTAuth
	HTTP   *httptest.Server
}

// NewTestServerSetup creates a relay hub with an HTTP API served by httptest
func NewTestServerSetup(t *testing.T) *TestServerSetup {
	t.Helper()

	hub, err := relay.NewHub(relay.Config{}, nil)
	require.NoError(t, err)

	jwtAuth := auth.NewJWTAuth("test-secret-key")
	server := NewServer(hub, jwtAuth, Config{Port: "0"}, nil)
	httpServer := httptest.NewServer(server.Handler())

	setup := &TestServerSetup{Hub: hub, Server: server, Auth: jwtAuth, HTTP: httpServer}
	t.Cleanup(setup.Close)
	return setup
}

// Close cleans up test resources
func (setup *TestServerSetup) Close() {
	setup.HTTP.Close()
	_ = setup.Hub.Close()
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, clientID string, isAdmin bool, roles ...liveevent.Role) string {
	t.Helper()

	token, _, err := setup.Auth.GenerateToken(clientID, isAdmin, roles...)
	require.NoError(t, err)
	return token
}
