package roles

import (
	"context"
	"sync"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// StaticRoleVerifier verifies against an in-memory roster.
// It is safe for concurrent use.
type StaticRoleVerifier struct {
	mu     sync.RWMutex
	roster map[string][]liveevent.Role
}

// NewStaticRoleVerifier creates an empty roster.
func NewStaticRoleVerifier() *StaticRoleVerifier {
	return &StaticRoleVerifier{
		roster: make(map[string][]liveevent.Role),
	}
}

// SetRoles replaces the roles held by clientID.
func (v *StaticRoleVerifier) SetRoles(clientID string, roles ...liveevent.Role) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.roster[clientID] = append([]liveevent.Role(nil), roles...)
}

// RemoveClient drops clientID from the roster.
func (v *StaticRoleVerifier) RemoveClient(clientID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.roster, clientID)
}

// GetClientRoles returns the roles held by clientID.
func (v *StaticRoleVerifier) GetClientRoles(ctx context.Context, clientID string) ([]liveevent.Role, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	roles, ok := v.roster[clientID]
	if !ok {
		return nil, liveevent.ErrClientNotFound
	}
	return append([]liveevent.Role(nil), roles...), nil
}

// VerifyRolesAllowed reports whether clientID holds one of the allowed roles.
func (v *StaticRoleVerifier) VerifyRolesAllowed(ctx context.Context, clientID string, allowed []liveevent.Role) (bool, error) {
	if len(allowed) == 0 {
		return true, nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	roles, ok := v.roster[clientID]
	if !ok {
		return false, nil
	}
	return liveevent.HasAnyRole(roles, allowed), nil
}

var (
	_ liveevent.RoleVerifier = (*StaticRoleVerifier)(nil)
	_ RoleHost               = (*StaticRoleVerifier)(nil)
)
