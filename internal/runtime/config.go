package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/livesync-go/internal/synchronizer"
)

const (
	DefaultConnectTimeout = 10 * time.Second
)

var (
	// ErrInvalidConnectTimeout is returned when the connect timeout is negative
	ErrInvalidConnectTimeout = errors.New("connect timeout cannot be negative")
)

// Config represents configuration for a Runtime
type Config struct {
	// ConnectTimeout bounds the signaler's Connect call during Start; zero disables it
	ConnectTimeout time.Duration

	// MaxTimestampError is used for the default local clock when no provider is injected
	MaxTimestampError int64

	// Synchronizer is the configuration given to every registered synchronizer
	Synchronizer synchronizer.Config
}

// NewConfig creates a new Runtime configuration with safe defaults
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	c.Synchronizer.SetDefaults()
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.ConnectTimeout < 0 {
		return ErrInvalidConnectTimeout
	}
	if err := c.Synchronizer.Validate(); err != nil {
		return fmt.Errorf("invalid synchronizer config: %w", err)
	}
	return nil
}

// WithSynchronizerConfig sets the synchronizer configuration
func (c *Config) WithSynchronizerConfig(config synchronizer.Config) *Config {
	c.Synchronizer = config
	return c
}

// WithConnectTimeout sets the connect timeout
func (c *Config) WithConnectTimeout(d time.Duration) *Config {
	c.ConnectTimeout = d
	return c
}
