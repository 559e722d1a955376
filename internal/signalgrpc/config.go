package signalgrpc

import (
	"errors"
	"time"
)

// Config holds configuration for the gRPC signal relay
type Config struct {
	// ListenAddress is the address the gRPC server binds to
	ListenAddress string `yaml:"listen_address" env:"LISTEN_ADDRESS"`

	// MaxMessageSize bounds a single received frame
	MaxMessageSize int `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`

	// SendBuffer is the per-stream outbound queue length
	SendBuffer int `yaml:"send_buffer" env:"SEND_BUFFER"`

	// HandshakeTimeout bounds how long a client waits for the welcome frame
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.MaxMessageSize < 0 || c.SendBuffer < 0 {
		return errors.New("message size and send buffer cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024 // 1MB
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}
