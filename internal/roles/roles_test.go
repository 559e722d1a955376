package roles

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

type countingHost struct {
	mu    sync.Mutex
	roles map[string][]liveevent.Role
	err   error
	calls int
}

func (h *countingHost) GetClientRoles(ctx context.Context, clientID string) ([]liveevent.Role, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	roles, ok := h.roles[clientID]
	if !ok {
		return nil, liveevent.ErrClientNotFound
	}
	return roles, nil
}

func (h *countingHost) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func TestStaticRoleVerifier(t *testing.T) {
	ctx := context.Background()
	v := NewStaticRoleVerifier()
	v.SetRoles("alice", liveevent.RoleOrganizer)
	v.SetRoles("bob", liveevent.RoleAttendee)

	ok, err := v.VerifyRolesAllowed(ctx, "alice", []liveevent.Role{liveevent.RoleOrganizer, liveevent.RolePresenter})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.VerifyRolesAllowed(ctx, "bob", []liveevent.Role{liveevent.RoleOrganizer})
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown clients resolve false without an error
	ok, err = v.VerifyRolesAllowed(ctx, "mallory", []liveevent.Role{liveevent.RoleOrganizer})
	require.NoError(t, err)
	assert.False(t, ok)

	// No required roles admits anyone
	ok, err = v.VerifyRolesAllowed(ctx, "mallory", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	v.RemoveClient("alice")
	_, err = v.GetClientRoles(ctx, "alice")
	assert.ErrorIs(t, err, liveevent.ErrClientNotFound)
}

func TestHostRoleVerifier_CachesRoles(t *testing.T) {
	host := &countingHost{roles: map[string][]liveevent.Role{"alice": {liveevent.RolePresenter}}}
	v := NewHostRoleVerifier(host, HostConfig{CacheTTL: time.Minute}, nil)
	defer v.Close()

	ctx := context.Background()
	allowed := []liveevent.Role{liveevent.RolePresenter}

	for i := 0; i < 3; i++ {
		ok, err := v.VerifyRolesAllowed(ctx, "alice", allowed)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, host.callCount())

	v.Invalidate("alice")
	_, err := v.VerifyRolesAllowed(ctx, "alice", allowed)
	require.NoError(t, err)
	assert.Equal(t, 2, host.callCount())
}

func TestHostRoleVerifier_UnknownClientNotCached(t *testing.T) {
	host := &countingHost{roles: map[string][]liveevent.Role{}}
	v := NewHostRoleVerifier(host, HostConfig{}, nil)
	defer v.Close()

	ctx := context.Background()
	allowed := []liveevent.Role{liveevent.RoleAttendee}

	ok, err := v.VerifyRolesAllowed(ctx, "late", allowed)
	require.NoError(t, err)
	assert.False(t, ok)

	host.mu.Lock()
	host.roles["late"] = []liveevent.Role{liveevent.RoleAttendee}
	host.mu.Unlock()

	ok, err = v.VerifyRolesAllowed(ctx, "late", allowed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHostRoleVerifier_HostFailure(t *testing.T) {
	host := &countingHost{err: errors.New("host unavailable")}
	v := NewHostRoleVerifier(host, HostConfig{}, nil)
	defer v.Close()

	ok, err := v.VerifyRolesAllowed(context.Background(), "alice", []liveevent.Role{liveevent.RoleOrganizer})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestHostRoleVerifier_NoRequiredRoles(t *testing.T) {
	host := &countingHost{}
	v := NewHostRoleVerifier(host, HostConfig{}, nil)
	defer v.Close()

	ok, err := v.VerifyRolesAllowed(context.Background(), "anyone", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, host.callCount())
}
