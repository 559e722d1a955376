package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

type nopConn struct{}

func (nopConn) Deliver(signaling.Message) error { return nil }

func doRequest(t *testing.T, setup *TestServerSetup, method, path, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, setup.HTTP.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestNewServer(t *testing.T) {
	setup := NewTestServerSetup(t)
	assert.NotNil(t, setup.Server.handlers)
	assert.NotNil(t, setup.Server.middleware)
	assert.Equal(t, ":0", setup.Server.server.Addr)
}

func TestLogin(t *testing.T) {
	setup := NewTestServerSetup(t)

	t.Run("issues token with roles", func(t *testing.T) {
		resp := doRequest(t, setup, http.MethodPost, "/api/v1/auth/login", "",
			`{"clientId":"alice","roles":["Presenter"]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		auth := decode[AuthResponse](t, resp)
		assert.Equal(t, "alice", auth.ClientID)
		assert.True(t, auth.ExpiresAt.After(time.Now()))

		claims, err := setup.Auth.ValidateToken(auth.Token)
		require.NoError(t, err)
		assert.Equal(t, []liveevent.Role{liveevent.RolePresenter}, claims.Roles)
		assert.False(t, claims.IsAdmin)
	})

	t.Run("admin client id gets admin claim", func(t *testing.T) {
		resp := doRequest(t, setup, http.MethodPost, "/api/v1/auth/login", "", `{"clientId":"admin"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		claims, err := setup.Auth.ValidateToken(decode[AuthResponse](t, resp).Token)
		require.NoError(t, err)
		assert.True(t, claims.IsAdmin)
	})

	tests := []struct {
		name string
		body string
	}{
		{"missing client id", `{}`},
		{"short client id", `{"clientId":"a"}`},
		{"unknown role", `{"clientId":"alice","roles":["Wizard"]}`},
		{"malformed body", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, setup, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			errResp := decode[ErrorResponse](t, resp)
			assert.Equal(t, http.StatusBadRequest, errResp.Code)
		})
	}

	t.Run("requires json content type", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, setup.HTTP.URL+"/api/v1/auth/login", strings.NewReader(`{"clientId":"alice"}`))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestClients(t *testing.T) {
	setup := NewTestServerSetup(t)
	require.NoError(t, setup.Hub.Join("bob", nopConn{}, []liveevent.Role{liveevent.RoleAttendee}))
	token := setup.GenerateTestToken(t, "alice", false)

	t.Run("requires auth", func(t *testing.T) {
		resp := doRequest(t, setup, http.MethodGet, "/api/v1/clients", "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = doRequest(t, setup, http.MethodGet, "/api/v1/clients", "garbage", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("lists roster", func(t *testing.T) {
		resp := doRequest(t, setup, http.MethodGet, "/api/v1/clients", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		clients := decode[ClientsResponse](t, resp)
		require.Len(t, clients.Clients, 1)
		assert.Equal(t, "bob", clients.Clients[0].ClientID)
	})

	t.Run("roles of connected client", func(t *testing.T) {
		resp := doRequest(t, setup, http.MethodGet, "/api/v1/clients/bob/roles", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		roles := decode[RolesResponse](t, resp)
		assert.Equal(t, []liveevent.Role{liveevent.RoleAttendee}, roles.Roles)
	})

	t.Run("roles of unknown client", func(t *testing.T) {
		resp := doRequest(t, setup, http.MethodGet, "/api/v1/clients/carol/roles", token, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("token in query", func(t *testing.T) {
		resp := doRequest(t, setup, http.MethodGet, "/api/v1/clients?token="+token, "", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServerTime(t *testing.T) {
	setup := NewTestServerSetup(t)
	before := time.Now().UnixMilli()

	resp := doRequest(t, setup, http.MethodGet, "/api/v1/time", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	ts := decode[TimeResponse](t, resp).Timestamp
	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, time.Now().UnixMilli())
}

func TestAdminEndpoints(t *testing.T) {
	setup := NewTestServerSetup(t)
	require.NoError(t, setup.Hub.Join("bob", nopConn{}, nil))

	t.Run("non admin forbidden", func(t *testing.T) {
		token := setup.GenerateTestToken(t, "alice", false)
		resp := doRequest(t, setup, http.MethodGet, "/api/v1/admin/stats", token, "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("missing token", func(t *testing.T) {
		resp := doRequest(t, setup, http.MethodGet, "/api/v1/admin/clients", "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	token := setup.GenerateTestToken(t, "admin", true)

	t.Run("stats", func(t *testing.T) {
		resp := doRequest(t, setup, http.MethodGet, "/api/v1/admin/stats", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		stats := decode[AdminStatsResponse](t, resp)
		assert.Equal(t, 1, stats.ConnectedClients)
		assert.Equal(t, uint64(1), stats.TotalJoins)
		assert.NotEmpty(t, stats.Uptime)
	})

	t.Run("clients", func(t *testing.T) {
		resp := doRequest(t, setup, http.MethodGet, "/api/v1/admin/clients", token, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode[ClientsResponse](t, resp).Clients, 1)
	})
}

func TestHealth(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := doRequest(t, setup, http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[HealthResponse](t, resp)
	assert.True(t, health.Healthy)
	assert.Equal(t, "ok", health.Message)

	require.NoError(t, setup.Hub.Close())
	resp = doRequest(t, setup, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, decode[HealthResponse](t, resp).Healthy)
}

func TestRootAndMiddleware(t *testing.T) {
	setup := NewTestServerSetup(t)

	resp := doRequest(t, setup, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = doRequest(t, setup, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, setup, http.MethodOptions, "/api/v1/clients", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMiddleware_NoAuthAndRecovery(t *testing.T) {
	setup := NewTestServerSetup(t)
	m := NewMiddleware(setup.Auth, setup.Server.logger, true)

	var seen string
	h := m.AuthRequired(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClientID(r)
		panic("boom")
	})

	w := httptest.NewRecorder()
	m.Recovery(h)(w, httptest.NewRequest(http.MethodGet, "/api/v1/clients", nil))
	assert.Equal(t, "dev-client", seen)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// Admin routes never honour no-auth mode
	w = httptest.NewRecorder()
	m.AdminRequired(func(http.ResponseWriter, *http.Request) {})(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
