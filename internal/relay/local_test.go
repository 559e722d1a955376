package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/livesync-go/internal/presence"
	"github.com/rmacdonaldsmith/livesync-go/internal/roles"
	"github.com/rmacdonaldsmith/livesync-go/internal/runtime"
	"github.com/rmacdonaldsmith/livesync-go/internal/synchronizer"
	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
	"github.com/rmacdonaldsmith/livesync-go/pkg/signaling"
)

func TestLocalSignaler_ConnectAndLoopBack(t *testing.T) {
	hub := newTestHub(t, Config{})
	ctx := context.Background()

	alice := NewLocalSignaler(hub, "alice", liveevent.RolePresenter)
	bob := NewLocalSignaler(hub, "")
	assert.Equal(t, "", alice.ClientID())
	assert.ErrorIs(t, alice.SubmitSignal(ctx, "x", nil), liveevent.ErrNotConnected)

	id, err := alice.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
	again, err := alice.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", again)

	bobID, err := bob.Connect(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, bobID)

	var mu sync.Mutex
	locals := map[string]bool{}
	alice.OnSignal(func(msg signaling.Message, local bool) {
		mu.Lock()
		defer mu.Unlock()
		locals["alice"] = local
	})
	unsubscribe := bob.OnSignal(func(msg signaling.Message, local bool) {
		mu.Lock()
		defer mu.Unlock()
		locals["bob"] = local
	})

	require.NoError(t, alice.SubmitSignal(ctx, "ping", []byte(`1`)))
	mu.Lock()
	assert.Equal(t, map[string]bool{"alice": true, "bob": false}, locals)
	mu.Unlock()

	unsubscribe()
	unsubscribe()

	require.NoError(t, bob.Close())
	require.NoError(t, bob.Close())
	assert.Equal(t, "", bob.ClientID())
	assert.Len(t, hub.Members(), 1)
}

func TestLocalSignaler_DuplicateID(t *testing.T) {
	hub := newTestHub(t, Config{})
	_, err := NewLocalSignaler(hub, "alice").Connect(context.Background())
	require.NoError(t, err)

	_, err = NewLocalSignaler(hub, "alice").Connect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

type profile struct {
	Name string `json:"name"`
}

// newSessionClient wires a runtime to the hub the way an embedding application would.
func newSessionClient(t *testing.T, hub *Hub, id string, clientRoles ...liveevent.Role) (*runtime.Runtime, *presence.Presence[profile]) {
	t.Helper()
	verifier := roles.NewHostRoleVerifier(hub, roles.HostConfig{}, nil)
	t.Cleanup(func() { _ = verifier.Close() })

	config := runtime.NewConfig().WithSynchronizerConfig(synchronizer.Config{
		UpdateInterval:   time.Hour,
		ExpirationPeriod: 2 * time.Hour,
		KeepAliveTicks:   1,
	})
	rt, err := runtime.New(config, NewLocalSignaler(hub, id, clientRoles...), runtime.WithRoleVerifier(verifier))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	p, err := presence.New[profile](rt, "lobby", liveevent.RoleAttendee, liveevent.RolePresenter)
	require.NoError(t, err)
	return rt, p
}

func TestSession_PresenceOverLocalRelay(t *testing.T) {
	hub := newTestHub(t, Config{})
	ctx := context.Background()

	rtA, presenceA := newSessionClient(t, hub, "alice", liveevent.RolePresenter)
	rtB, presenceB := newSessionClient(t, hub, "bob", liveevent.RoleAttendee)
	rtC, presenceC := newSessionClient(t, hub, "carol", liveevent.RoleGuest)

	// Carol is a guest: she hears the others but her updates are not admitted
	require.NoError(t, presenceC.UpdatePresence(ctx, presence.StateOnline, profile{Name: "Carol"}))
	require.NoError(t, rtC.Start(ctx))

	require.NoError(t, presenceA.UpdatePresence(ctx, presence.StateOnline, profile{Name: "Alice"}))
	require.NoError(t, presenceB.UpdatePresence(ctx, presence.StateOnline, profile{Name: "Bob"}))
	require.NoError(t, rtA.Start(ctx))
	require.NoError(t, rtB.Start(ctx))

	require.Eventually(t, func() bool {
		_, ok := presenceA.User("bob")
		return ok
	}, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := presenceC.User("alice")
		return ok
	}, time.Second, 2*time.Millisecond)

	_, ok := presenceA.User("carol")
	assert.False(t, ok, "guest updates are dropped by role verification")

	// Bob leaves; the relay tells alice, who drops him
	require.NoError(t, rtB.Close())
	require.Eventually(t, func() bool {
		_, ok := presenceA.User("bob")
		return !ok
	}, time.Second, 2*time.Millisecond)
}
