package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// MockRoleVerifier resolves roles from an in-memory roster, with optional per-client
// latency and a forced error.
type MockRoleVerifier struct {
	mu       sync.Mutex
	roles    map[string][]liveevent.Role
	delays   map[string]time.Duration
	allowAll bool
	err      error
	calls    int
}

// NewMockRoleVerifier creates a verifier that knows no clients.
func NewMockRoleVerifier() *MockRoleVerifier {
	return &MockRoleVerifier{
		roles:  make(map[string][]liveevent.Role),
		delays: make(map[string]time.Duration),
	}
}

// NewAllowAllRoleVerifier creates a verifier that admits every client.
func NewAllowAllRoleVerifier() *MockRoleVerifier {
	v := NewMockRoleVerifier()
	v.allowAll = true
	return v
}

// SetRoles assigns roles to clientID.
func (v *MockRoleVerifier) SetRoles(clientID string, roles ...liveevent.Role) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.roles[clientID] = roles
}

// SetDelay makes verification of clientID take d.
func (v *MockRoleVerifier) SetDelay(clientID string, d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.delays[clientID] = d
}

// SetError makes every verification fail with err.
func (v *MockRoleVerifier) SetError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

// Calls returns the number of verifications performed.
func (v *MockRoleVerifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// VerifyRolesAllowed implements liveevent.RoleVerifier.
func (v *MockRoleVerifier) VerifyRolesAllowed(ctx context.Context, clientID string, allowed []liveevent.Role) (bool, error) {
	v.mu.Lock()
	v.calls++
	delay := v.delays[clientID]
	err := v.err
	allowAll := v.allowAll
	roles := v.roles[clientID]
	v.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if err != nil {
		return false, err
	}
	if allowAll {
		return true, nil
	}
	return liveevent.HasAnyRole(roles, allowed), nil
}

var _ liveevent.RoleVerifier = (*MockRoleVerifier)(nil)
