// Package config loads the relay daemon configuration from YAML and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/livesync-go/internal/auth"
	"github.com/rmacdonaldsmith/livesync-go/internal/httpapi"
	"github.com/rmacdonaldsmith/livesync-go/internal/relay"
	"github.com/rmacdonaldsmith/livesync-go/internal/signalgrpc"
)

var (
	// ErrConfigFileUnreadable is returned when the config file cannot be read
	ErrConfigFileUnreadable = errors.New("config file is unreadable")
	// ErrConfigFileUnmarshallable is returned when the config file is not valid YAML
	ErrConfigFileUnmarshallable = errors.New("config file is not valid yaml")
	// ErrSecretMissing is returned when no token signing secret is configured
	ErrSecretMissing = errors.New("secret is missing")
)

// Config is the relay daemon configuration. Environment variables override the file.
type Config struct {
	// Secret signs the JWTs issued at login
	Secret string `yaml:"secret" env:"LIVESYNC_SECRET"`

	// TokenTTL is the lifetime of issued tokens
	TokenTTL time.Duration `yaml:"token_ttl" env:"LIVESYNC_TOKEN_TTL"`

	LogLevel  string `yaml:"log_level" env:"LIVESYNC_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LIVESYNC_LOG_FORMAT"`

	HTTP  httpapi.Config    `yaml:"http" envPrefix:"LIVESYNC_HTTP_"`
	GRPC  signalgrpc.Config `yaml:"grpc" envPrefix:"LIVESYNC_GRPC_"`
	Relay relay.Config      `yaml:"relay" envPrefix:"LIVESYNC_RELAY_"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = auth.DefaultTokenTTL
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.HTTP.Port == "" {
		c.HTTP.Port = "8081"
	}
	if c.GRPC.ListenAddress == "" {
		c.GRPC.ListenAddress = ":9090"
	}
	c.GRPC.SetDefaults()
	c.Relay.SetDefaults()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Secret == "" {
		return ErrSecretMissing
	}
	if err := c.GRPC.Validate(); err != nil {
		return fmt.Errorf("grpc: %w", err)
	}
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

// Load reads path (if not empty), applies environment overrides, then defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigFileUnreadable, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigFileUnmarshallable, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
