package server

import (
	"time"

	"github.com/kbukum/mmalkit/resilience"
	"github.com/kbukum/mmalkit/security"
	"github.com/kbukum/mmalkit/server/middleware"
	"github.com/kbukum/mmalkit/validation"
)

// Config holds HTTP server configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port" validate:"gte=0,lte=65535"`

	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	// WriteTimeout must cover the longest capture. Event streams clear it.
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
	MaxBodySize     int64         `mapstructure:"max_body_size" validate:"gte=0"`

	// TLS serves HTTPS when a certificate is configured.
	TLS  security.TLSConfig    `mapstructure:"tls"`
	CORS middleware.CORSConfig `mapstructure:"cors"`
	// RateLimit is charged per client on the capture and settings routes.
	// A zero rate disables limiting.
	RateLimit resilience.RateLimiterConfig `mapstructure:"rate_limit"`
	// Captures bounds how many capture requests wait for the camera.
	Captures resilience.BulkheadConfig `mapstructure:"captures"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 2 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = middleware.DefaultMaxBodySize
	}
	c.CORS.ApplyDefaults()
	if c.Captures.MaxConcurrent == 0 {
		c.Captures = resilience.DefaultBulkheadConfig("captures")
		c.Captures.MaxWait = 30 * time.Second
	}
	if c.RateLimit.Name == "" {
		c.RateLimit.Name = "api"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	return c.TLS.Validate()
}
