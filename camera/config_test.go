package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/mmalkit/errors"
	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/mmal"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1920, cfg.Width)
	assert.Equal(t, 1080, cfg.Height)
	assert.Equal(t, hal.EncodingJPEG, cfg.stillEncoding())
	assert.Equal(t, hal.EncodingH264, cfg.videoEncoding())
	assert.Equal(t, mmal.Tunnelled, cfg.linkMode())
	assert.Equal(t, DefaultSettings(), cfg.Settings)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{Width: 640, Height: 480, Link: "intercepted"}
	cfg.Still.Encoding = "png"
	cfg.ApplyDefaults()

	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, hal.EncodingPNG, cfg.stillEncoding())
	assert.Equal(t, mmal.Intercepted, cfg.linkMode())
	assert.Equal(t, "h264", cfg.Video.Encoding)
	assert.NotZero(t, cfg.CaptureTimeout)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"too wide", func(c *Config) { c.Width = SensorWidth + 1 }, "width"},
		{"zero height", func(c *Config) { c.Height = -1 }, "height"},
		{"still encoding", func(c *Config) { c.Still.Encoding = "tiff" }, "still.encoding"},
		{"quality", func(c *Config) { c.Still.Quality = 101 }, "still.quality"},
		{"video encoding", func(c *Config) { c.Video.Encoding = "vp8" }, "video.encoding"},
		{"bitrate", func(c *Config) { c.Video.Bitrate = MaxBitrate + 1 }, "video.bitrate"},
		{"link", func(c *Config) { c.Link = "pipe" }, "link"},
		{"settings range", func(c *Config) { c.Settings.Brightness = 101 }, "settings.brightness"},
		{"settings mode", func(c *Config) { c.Settings.AWBMode = "disco" }, "settings.awb_mode"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())

	s := DefaultSettings()
	s.Rotation = 45
	s.AWBGains = [2]float64{1.5, 9}
	s.ImageEffect = ""
	err := s.Validate()
	require.Error(t, err)
	for _, field := range []string{"rotation", "awb_gains", "image_effect"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestSettingsParams(t *testing.T) {
	s := DefaultSettings()
	s.AWBGains = [2]float64{1.5, 0.25}
	s.Rotation = 180

	got := make(map[hal.ParameterID]any)
	for _, p := range s.params() {
		got[p.id] = p.value
	}
	assert.Equal(t, 50, got[hal.ParamBrightness])
	assert.Equal(t, "auto", got[hal.ParamExposureMode])
	assert.Equal(t, 180, got[hal.ParamRotation])

	gains, ok := got[hal.ParamAWBGains].([2]hal.Rational)
	require.True(t, ok)
	assert.InDelta(t, 1.5, gains[0].Float(), 1e-6)
	assert.InDelta(t, 0.25, gains[1].Float(), 1e-6)
}
