package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
secret: from-file
token_ttl: 2h
log_level: debug
http:
  port: "8088"
grpc:
  listen_address: ":9999"
  send_buffer: 32
relay:
  signals_per_second: 5
  burst: 10
`)
	t.Setenv("LIVESYNC_SECRET", "from-env")
	t.Setenv("LIVESYNC_RELAY_BURST", "20")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Secret)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "8088", cfg.HTTP.Port)
	assert.Equal(t, ":9999", cfg.GRPC.ListenAddress)
	assert.Equal(t, 32, cfg.GRPC.SendBuffer)
	assert.Equal(t, 5.0, cfg.Relay.SignalsPerSecond)
	assert.Equal(t, 20, cfg.Relay.Burst)
	assert.Equal(t, 64*1024, cfg.Relay.MaxContentBytes)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("LIVESYNC_SECRET", "s3cret")
	t.Setenv("LIVESYNC_HTTP_NO_AUTH", "true")
	t.Setenv("LIVESYNC_GRPC_HANDSHAKE_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.HTTP.NoAuth)
	assert.Equal(t, 3*time.Second, cfg.GRPC.HandshakeTimeout)
	assert.Equal(t, "8081", cfg.HTTP.Port)
	assert.Equal(t, ":9090", cfg.GRPC.ListenAddress)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileUnreadable)

	_, err = Load(writeConfig(t, "secret: [unterminated"))
	assert.ErrorIs(t, err, ErrConfigFileUnmarshallable)

	_, err = Load(writeConfig(t, "secret: x\nunknown_field: 1\n"))
	assert.ErrorIs(t, err, ErrConfigFileUnmarshallable)

	_, err = Load(writeConfig(t, "log_level: info\n"))
	assert.ErrorIs(t, err, ErrSecretMissing)

	_, err = Load(writeConfig(t, "secret: x\nrelay:\n  signals_per_second: -1\n"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.ErrorIs(t, cfg.Validate(), ErrSecretMissing)

	cfg.Secret = "x"
	assert.NoError(t, cfg.Validate())
}
