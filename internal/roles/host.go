package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

// RoleHost is the session host that knows which roles each client holds.
type RoleHost interface {
	// GetClientRoles returns the roles of clientID, or liveevent.ErrClientNotFound.
	GetClientRoles(ctx context.Context, clientID string) ([]liveevent.Role, error)
}

// HostConfig configures a HostRoleVerifier
type HostConfig struct {
	// CacheTTL is how long a client's roles are trusted before asking the host again
	CacheTTL time.Duration

	// CacheCapacity bounds the number of cached clients (0 = unbounded)
	CacheCapacity uint64
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *HostConfig) SetDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// HostRoleVerifier verifies roles by asking a RoleHost and caching the answer per client.
// Unknown clients are never cached so a late joiner is recognized on its first event.
type HostRoleVerifier struct {
	host   RoleHost
	logger *slog.Logger
	cache  *ttlcache.Cache[string, []liveevent.Role]
}

// NewHostRoleVerifier creates a verifier backed by host.
func NewHostRoleVerifier(host RoleHost, config HostConfig, logger *slog.Logger) *HostRoleVerifier {
	config.SetDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := []ttlcache.Option[string, []liveevent.Role]{
		ttlcache.WithTTL[string, []liveevent.Role](config.CacheTTL),
		ttlcache.WithDisableTouchOnHit[string, []liveevent.Role](),
	}
	if config.CacheCapacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []liveevent.Role](config.CacheCapacity))
	}
	cache := ttlcache.New[string, []liveevent.Role](opts...)
	go cache.Start()

	return &HostRoleVerifier{
		host:   host,
		logger: logger,
		cache:  cache,
	}
}

// VerifyRolesAllowed reports whether clientID holds one of the allowed roles.
func (v *HostRoleVerifier) VerifyRolesAllowed(ctx context.Context, clientID string, allowed []liveevent.Role) (bool, error) {
	if len(allowed) == 0 {
		return true, nil
	}

	roles, err := v.clientRoles(ctx, clientID)
	if errors.Is(err, liveevent.ErrClientNotFound) {
		v.logger.Debug("role check for unknown client", "client_id", clientID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get roles for %s: %w", clientID, err)
	}
	return liveevent.HasAnyRole(roles, allowed), nil
}

// Invalidate forgets the cached roles of clientID.
func (v *HostRoleVerifier) Invalidate(clientID string) {
	v.cache.Delete(clientID)
}

// Close stops the cache's expiration loop.
func (v *HostRoleVerifier) Close() error {
	v.cache.Stop()
	return nil
}

func (v *HostRoleVerifier) clientRoles(ctx context.Context, clientID string) ([]liveevent.Role, error) {
	if item := v.cache.Get(clientID); item != nil {
		return item.Value(), nil
	}

	roles, err := v.host.GetClientRoles(ctx, clientID)
	if err != nil {
		return nil, err
	}
	v.cache.Set(clientID, roles, ttlcache.DefaultTTL)
	return roles, nil
}

var _ liveevent.RoleVerifier = (*HostRoleVerifier)(nil)
