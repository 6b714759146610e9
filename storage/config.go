package storage

import (
	"github.com/kbukum/mmalkit/validation"
)

// Provider names.
const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

const (
	DefaultProvider    = ProviderLocal
	DefaultBasePath    = "captures"
	DefaultRegion      = "us-east-1"
	DefaultMaxFileSize = int64(64 * 1024 * 1024)
)

// Config holds storage configuration.
type Config struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Provider selects the backend: "local" or "s3".
	Provider string `yaml:"provider" mapstructure:"provider" validate:"oneof=local s3"`

	// BasePath is the root directory of the local backend.
	BasePath string `yaml:"base_path" mapstructure:"base_path" validate:"required_if=Provider local"`

	Bucket string `yaml:"bucket" mapstructure:"bucket" validate:"required_if=Provider s3"`
	Region string `yaml:"region" mapstructure:"region" validate:"required_if=Provider s3"`
	// Endpoint is a custom S3-compatible endpoint such as MinIO. Setting
	// it implies path-style addressing.
	Endpoint       string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey      string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey      string `yaml:"secret_key" mapstructure:"secret_key"`
	ForcePathStyle bool   `yaml:"force_path_style" mapstructure:"force_path_style"`

	// Prefix is prepended to every capture name.
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	// MaxFileSize rejects captures larger than this many bytes.
	MaxFileSize int64 `yaml:"max_file_size" mapstructure:"max_file_size" validate:"gte=0"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.Provider == ProviderLocal && c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	if c.Provider == ProviderS3 && c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
}

// Validate checks the configuration for the selected provider.
func (c *Config) Validate() error {
	return validation.Struct(c)
}
