package synchronizer

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultUpdateInterval   = 10 * time.Second
	DefaultExpirationPeriod = 30 * time.Second
	DefaultKeepAliveTicks   = 1
)

var (
	// ErrInvalidUpdateInterval is returned when the update interval is not positive
	ErrInvalidUpdateInterval = errors.New("update interval must be positive")
	// ErrInvalidExpirationPeriod is returned when peers would expire between heartbeats
	ErrInvalidExpirationPeriod = errors.New("expiration period must exceed the keep-alive period")
)

// Config controls the reconciliation loop of a Synchronizer
type Config struct {
	// UpdateInterval is the tick period
	UpdateInterval time.Duration

	// ExpirationPeriod is how long a silent peer's state stays live, before the clock
	// error allowance is added
	ExpirationPeriod time.Duration

	// KeepAliveTicks forces a broadcast every N ticks even when the local state is unchanged
	KeepAliveTicks int
}

// NewConfig creates a configuration with the default intervals.
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills zero fields.
func (c *Config) SetDefaults() {
	if c.UpdateInterval == 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.ExpirationPeriod == 0 {
		c.ExpirationPeriod = DefaultExpirationPeriod
	}
	if c.KeepAliveTicks == 0 {
		c.KeepAliveTicks = DefaultKeepAliveTicks
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.UpdateInterval <= 0 {
		return ErrInvalidUpdateInterval
	}
	if c.KeepAliveTicks < 1 {
		return fmt.Errorf("keep-alive ticks must be at least 1, got %d", c.KeepAliveTicks)
	}
	if c.ExpirationPeriod <= c.UpdateInterval*time.Duration(c.KeepAliveTicks) {
		return fmt.Errorf("%w: expiration %v, keep-alive every %v",
			ErrInvalidExpirationPeriod, c.ExpirationPeriod, c.UpdateInterval*time.Duration(c.KeepAliveTicks))
	}
	return nil
}

// WithUpdateInterval sets the tick period
func (c *Config) WithUpdateInterval(d time.Duration) *Config {
	c.UpdateInterval = d
	return c
}

// WithExpirationPeriod sets the expiration period
func (c *Config) WithExpirationPeriod(d time.Duration) *Config {
	c.ExpirationPeriod = d
	return c
}

// WithKeepAliveTicks sets the forced broadcast cadence
func (c *Config) WithKeepAliveTicks(n int) *Config {
	c.KeepAliveTicks = n
	return c
}
