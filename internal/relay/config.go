package relay

import (
	"errors"
	"fmt"
)

const (
	DefaultSignalsPerSecond = 50.0
	DefaultBurst            = 100
	DefaultMaxContentBytes  = 64 * 1024
	DefaultSendBuffer       = 256
)

var (
	// ErrInvalidRate is returned when the signal rate is not positive
	ErrInvalidRate = errors.New("signals per second must be positive")
)

// Config controls fan-out limits of a Hub
type Config struct {
	// SignalsPerSecond is the sustained per-client signal rate
	SignalsPerSecond float64 `yaml:"signals_per_second" env:"SIGNALS_PER_SECOND"`

	// Burst is the per-client token bucket size
	Burst int `yaml:"burst" env:"BURST"`

	// MaxContentBytes bounds the content of a single signal
	MaxContentBytes int `yaml:"max_content_bytes" env:"MAX_CONTENT_BYTES"`

	// SendBuffer is the per-connection outbound queue length used by transports
	SendBuffer int `yaml:"send_buffer" env:"SEND_BUFFER"`
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	if c.SignalsPerSecond == 0 {
		c.SignalsPerSecond = DefaultSignalsPerSecond
	}
	if c.Burst == 0 {
		c.Burst = DefaultBurst
	}
	if c.MaxContentBytes == 0 {
		c.MaxContentBytes = DefaultMaxContentBytes
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = DefaultSendBuffer
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.SignalsPerSecond <= 0 {
		return ErrInvalidRate
	}
	if c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", c.Burst)
	}
	if c.MaxContentBytes < 1 {
		return fmt.Errorf("max content bytes must be at least 1, got %d", c.MaxContentBytes)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("send buffer must be at least 1, got %d", c.SendBuffer)
	}
	return nil
}
