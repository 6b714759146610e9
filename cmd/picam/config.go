package main

import (
	"fmt"
	"time"

	"github.com/kbukum/mmalkit/camera"
	"github.com/kbukum/mmalkit/config"
	"github.com/kbukum/mmalkit/observability"
	"github.com/kbukum/mmalkit/server"
	"github.com/kbukum/mmalkit/storage"
)

const serviceName = "picam"

// SimConfig tunes the simulated engine used when no hardware is present.
type SimConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval" mapstructure:"frame_interval"`
	BufferWait    time.Duration `yaml:"buffer_wait" mapstructure:"buffer_wait"`
}

// Config is the picam configuration, loaded from picam.yml, the
// environment (PICAM_*) and command line flags.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Camera  camera.Config              `yaml:"camera" mapstructure:"camera"`
	Server  server.Config              `yaml:"server" mapstructure:"server"`
	Storage storage.Config             `yaml:"storage" mapstructure:"storage"`
	Tracing observability.TracerConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics observability.MeterConfig  `yaml:"metrics" mapstructure:"metrics"`
	Sim     SimConfig                  `yaml:"sim" mapstructure:"sim"`
}

// ApplyDefaults fills every section. OTLP sections inherit the service
// identity when left blank.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.ServiceConfig.ApplyDefaults()
	c.Camera.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Storage.ApplyDefaults()

	td := observability.DefaultTracerConfig(c.Name)
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = td.ServiceName
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = td.Endpoint
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = td.SampleRate
	}
	md := observability.DefaultMeterConfig(c.Name)
	if c.Metrics.ServiceName == "" {
		c.Metrics.ServiceName = md.ServiceName
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = md.Endpoint
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = md.Interval
	}
	if c.Version != "" {
		c.Tracing.ServiceVersion = c.Version
		c.Metrics.ServiceVersion = c.Version
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = c.Environment
	}
	if c.Metrics.Environment == "" {
		c.Metrics.Environment = c.Environment
	}
	if c.Sim.FrameInterval == 0 {
		c.Sim.FrameInterval = 33 * time.Millisecond
	}
}

func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}
