package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, expiresAt, err := auth.GenerateToken("test-client", false, liveevent.RolePresenter)
	require.NoError(t, err)
	if token == "" {
		t.Fatal("Expected non-empty token")
	}
	if expiresAt.IsZero() {
		t.Error("Expected valid expiration time")
	}

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "test-client", claims.ClientID)
	assert.False(t, claims.IsAdmin)
	assert.Equal(t, []liveevent.Role{liveevent.RolePresenter}, claims.Roles)

	_, err = auth.ValidateToken("invalid-token")
	assert.Error(t, err)
}

func TestJWTAuth_AdminToken(t *testing.T) {
	auth := NewJWTAuth("admin-secret")

	token, _, err := auth.GenerateToken("admin", true)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
	assert.Empty(t, claims.Roles)
}

func TestJWTAuth_Expiration(t *testing.T) {
	auth := NewJWTAuth("expiry-secret")

	_, expiresAt, err := auth.GenerateToken("expiry-test", false)
	require.NoError(t, err)

	expectedExpiry := time.Now().Add(DefaultTokenTTL)
	if diff := expiresAt.Sub(expectedExpiry).Abs(); diff > time.Minute {
		t.Errorf("Token expiration time off by more than 1 minute: %v", diff)
	}

	short := NewJWTAuth("expiry-secret").WithTTL(time.Minute)
	token, _, err := short.GenerateToken("expiry-test", false)
	require.NoError(t, err)

	short.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = short.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTAuth_BearerPrefix(t *testing.T) {
	auth := NewJWTAuth("bearer-secret")

	token, _, err := auth.GenerateToken("bearer-test", false)
	require.NoError(t, err)

	claims, err := auth.ValidateToken("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "bearer-test", claims.ClientID)
}

func TestJWTAuth_Rejections(t *testing.T) {
	auth := NewJWTAuth("secret-a")

	_, _, err := auth.GenerateToken("", false)
	assert.ErrorIs(t, err, ErrEmptyClientID)

	_, err = auth.ValidateToken("")
	assert.ErrorIs(t, err, ErrEmptyToken)
	_, err = auth.ValidateToken("Bearer ")
	assert.ErrorIs(t, err, ErrEmptyToken)

	token, _, err := NewJWTAuth("secret-b").GenerateToken("client", false)
	require.NoError(t, err)
	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}
