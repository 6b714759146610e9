package camera

import (
	"time"

	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/mmal"
	"github.com/kbukum/mmalkit/resilience"
	"github.com/kbukum/mmalkit/validation"
)

// Limits of the camera module and its encoders.
const (
	SensorWidth  = 3280
	SensorHeight = 2464
	MaxBitrate   = 25_000_000
)

// StillConfig configures the image encoder.
type StillConfig struct {
	Encoding string `mapstructure:"encoding" validate:"oneof=jpeg png bmp gif"`
	// Quality applies to JPEG output.
	Quality int `mapstructure:"quality" validate:"gte=1,lte=100"`
}

// VideoConfig configures the video encoder.
type VideoConfig struct {
	Encoding  string `mapstructure:"encoding" validate:"oneof=h264 mjpeg"`
	Bitrate   int    `mapstructure:"bitrate" validate:"gte=0,lte=25000000"`
	FrameRate int    `mapstructure:"frame_rate" validate:"gte=1,lte=120"`
}

// BufferConfig overrides the engine's recommended buffer sizing. Zero
// keeps the recommendation.
type BufferConfig struct {
	Num  int `mapstructure:"num" validate:"gte=0"`
	Size int `mapstructure:"size" validate:"gte=0"`
}

// Config is everything a Session needs.
type Config struct {
	Width  int `mapstructure:"width" validate:"gt=0,lte=3280"`
	Height int `mapstructure:"height" validate:"gt=0,lte=2464"`

	Still StillConfig `mapstructure:"still"`
	Video VideoConfig `mapstructure:"video"`

	// Link selects how the camera ports feed their stages: "tunnelled" or
	// "intercepted".
	Link    string       `mapstructure:"link" validate:"oneof=tunnelled intercepted"`
	Buffers BufferConfig `mapstructure:"buffers"`

	Settings Settings `mapstructure:"settings"`

	// CaptureTimeout bounds a single capture. Zero waits for the caller's
	// context only.
	CaptureTimeout time.Duration                   `mapstructure:"capture_timeout"`
	Recovery       resilience.RetryConfig          `mapstructure:"recovery"`
	Breaker        resilience.CircuitBreakerConfig `mapstructure:"breaker"`
}

// DefaultConfig returns a 1080p JPEG/H264 session.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Width == 0 {
		c.Width = 1920
	}
	if c.Height == 0 {
		c.Height = 1080
	}
	if c.Still.Encoding == "" {
		c.Still.Encoding = "jpeg"
	}
	if c.Still.Quality == 0 {
		c.Still.Quality = 85
	}
	if c.Video.Encoding == "" {
		c.Video.Encoding = "h264"
	}
	if c.Video.Bitrate == 0 {
		c.Video.Bitrate = 17_000_000
	}
	if c.Video.FrameRate == 0 {
		c.Video.FrameRate = 30
	}
	if c.Link == "" {
		c.Link = mmal.Tunnelled.String()
	}
	if c.Settings == (Settings{}) {
		c.Settings = DefaultSettings()
	}
	if c.CaptureTimeout == 0 {
		c.CaptureTimeout = 10 * time.Second
	}
	if c.Recovery.MaxAttempts == 0 {
		c.Recovery = resilience.DefaultRetryConfig()
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker = resilience.DefaultCircuitBreakerConfig("camera")
	}
}

// Validate checks the configuration against the sensor and encoder limits.
func (c Config) Validate() error {
	v := validation.New().Merge(validation.Struct(c))
	c.Settings.checkModes(v, "settings.")
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

func (c Config) stillEncoding() hal.Encoding {
	e, _ := hal.ParseEncoding(c.Still.Encoding)
	return e
}

func (c Config) videoEncoding() hal.Encoding {
	e, _ := hal.ParseEncoding(c.Video.Encoding)
	return e
}

func (c Config) linkMode() mmal.Mode {
	m, _ := mmal.ParseMode(c.Link)
	return m
}
