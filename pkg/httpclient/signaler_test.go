package httpclient

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/livesync-go/internal/auth"
	"github.com/rmacdonaldsmith/livesync-go/internal/httpapi"
	"github.com/rmacdonaldsmith/livesync-go/internal/relay"
	"github.com/rmacdonaldsmith/livesync-go/internal/roles"
	"github.com/rmacdonaldsmith/livesync-go/internal/runtime"
	"github.com/rmacdonaldsmith/livesync-go/internal/timestamp"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

func startRelayServer(t *testing.T) (*relay.Hub, string) {
	t.Helper()
	hub, err := relay.NewHub(relay.Config{}, nil)
	require.NoError(t, err)
	api := httpapi.NewServer(hub, auth.NewJWTAuth("signaler-test"), httpapi.Config{}, nil)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = hub.Close()
	})
	return hub, server.URL
}

func newRelayClient(t *testing.T, url, clientID string, clientRoles ...liveevent.Role) *Client {
	t.Helper()
	c, err := NewClient(Config{ServerURL: url, ClientID: clientID, Roles: clientRoles, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestWebSocketSignaler_Exchange(t *testing.T) {
	hub, url := startRelayServer(t)
	ctx := context.Background()

	alice := newRelayClient(t, url, "alice", liveevent.RolePresenter).Signaler(SignalerConfig{})
	bob := newRelayClient(t, url, "bob").Signaler(SignalerConfig{})
	t.Cleanup(func() { _ = alice.Close() })
	t.Cleanup(func() { _ = bob.Close() })

	assert.ErrorIs(t, alice.SubmitSignal(ctx, "x", nil), liveevent.ErrNotConnected)

	id, err := alice.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
	_, err = bob.Connect(ctx)
	require.NoError(t, err)
	assert.Len(t, hub.Members(), 2)

	var mu sync.Mutex
	var seen []bool
	bob.OnSignal(func(msg signaling.Message, local bool) {
		mu.Lock()
		defer mu.Unlock()
		if msg.Type == "cursor:move" {
			assert.Equal(t, "alice", msg.ClientID)
			seen = append(seen, local)
		}
	})
	alice.OnSignal(func(msg signaling.Message, local bool) {
		mu.Lock()
		defer mu.Unlock()
		if msg.Type == "cursor:move" {
			seen = append(seen, local)
		}
	})

	require.NoError(t, alice.SubmitSignal(ctx, "cursor:move", []byte(`{"x":1}`)))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []bool{true, false}, seen)

	require.NoError(t, bob.Close())
	require.NoError(t, bob.Close())
	assert.Empty(t, bob.ClientID())
	require.Eventually(t, func() bool { return len(hub.Members()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketSignaler_ConnectFailsOnDuplicate(t *testing.T) {
	_, url := startRelayServer(t)
	ctx := context.Background()

	first := newRelayClient(t, url, "alice").Signaler(SignalerConfig{})
	t.Cleanup(func() { _ = first.Close() })
	_, err := first.Connect(ctx)
	require.NoError(t, err)

	second := newRelayClient(t, url, "alice").Signaler(SignalerConfig{})
	_, err = second.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

// A client runtime wired entirely through the HTTP API: websocket signals,
// host roles and host time.
func TestClientRuntimeOverHTTP(t *testing.T) {
	_, url := startRelayServer(t)
	ctx := context.Background()

	newRuntime := func(id string, clientRoles ...liveevent.Role) *runtime.Runtime {
		client := newRelayClient(t, url, id, clientRoles...)
		require.NoError(t, client.Authenticate(ctx))

		clock := timestamp.NewHostTimestampProvider(client, timestamp.HostConfig{}, nil)
		require.NoError(t, clock.Sync(ctx))
		verifier := roles.NewHostRoleVerifier(client, roles.HostConfig{}, nil)
		t.Cleanup(func() { _ = verifier.Close() })

		rt, err := runtime.New(runtime.NewConfig(), client.Signaler(SignalerConfig{}),
			runtime.WithTimestampProvider(clock), runtime.WithRoleVerifier(verifier))
		require.NoError(t, err)
		t.Cleanup(func() { _ = rt.Close() })
		return rt
	}

	presenter := newRuntime("alice", liveevent.RolePresenter)
	guest := newRuntime("mallory", liveevent.RoleGuest)
	attendee := newRuntime("bob", liveevent.RoleAttendee)

	received := make(chan string, 4)
	bobScope, err := attendee.CreateScope("slides", liveevent.RolePresenter)
	require.NoError(t, err)
	bobScope.OnEvent("advance", func(evt liveevent.RawEvent, local bool) {
		received <- evt.ClientID
	})

	aliceScope, err := presenter.CreateScope("slides", liveevent.RolePresenter)
	require.NoError(t, err)
	malloryScope, err := guest.CreateScope("slides", liveevent.RolePresenter)
	require.NoError(t, err)

	for _, rt := range []*runtime.Runtime{presenter, guest, attendee} {
		require.NoError(t, rt.Start(ctx))
	}

	_, err = malloryScope.SendEvent(ctx, "advance", map[string]int{"slide": 99})
	require.NoError(t, err)
	_, err = aliceScope.SendEvent(ctx, "advance", map[string]int{"slide": 2})
	require.NoError(t, err)

	select {
	case from := <-received:
		assert.Equal(t, "alice", from, "only the presenter may advance slides")
	case <-time.After(3 * time.Second):
		t.Fatal("presenter event was not delivered")
	}
	select {
	case from := <-received:
		t.Fatalf("unexpected event from %s", from)
	case <-time.After(100 * time.Millisecond):
	}
}
