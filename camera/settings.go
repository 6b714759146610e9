package camera

import (
	"math"

	"github.com/kbukum/mmalkit/hal"
	"github.com/kbukum/mmalkit/validation"
)

// Settings are the device controls applied to the camera while it is
// disabled.
type Settings struct {
	Sharpness            int    `mapstructure:"sharpness" json:"sharpness" validate:"gte=-100,lte=100"`
	Contrast             int    `mapstructure:"contrast" json:"contrast" validate:"gte=-100,lte=100"`
	Brightness           int    `mapstructure:"brightness" json:"brightness" validate:"gte=0,lte=100"`
	Saturation           int    `mapstructure:"saturation" json:"saturation" validate:"gte=-100,lte=100"`
	ISO                  int    `mapstructure:"iso" json:"iso" validate:"gte=0,lte=1600"`
	ExposureMode         string `mapstructure:"exposure_mode" json:"exposure_mode"`
	ExposureCompensation int    `mapstructure:"exposure_compensation" json:"exposure_compensation" validate:"gte=-10,lte=10"`
	MeteringMode         string `mapstructure:"metering_mode" json:"metering_mode"`
	AWBMode              string `mapstructure:"awb_mode" json:"awb_mode"`
	// AWBGains holds the red and blue gains used when AWBMode is "off".
	AWBGains     [2]float64 `mapstructure:"awb_gains" json:"awb_gains" validate:"dive,gte=0,lte=8"`
	ImageEffect  string     `mapstructure:"image_effect" json:"image_effect"`
	Rotation     int        `mapstructure:"rotation" json:"rotation" validate:"oneof=0 90 180 270"`
	Mirror       string     `mapstructure:"mirror" json:"mirror"`
	ShutterSpeed int        `mapstructure:"shutter_speed" json:"shutter_speed" validate:"gte=0,lte=6000000"`
}

// DefaultSettings returns the sensor power-on state.
func DefaultSettings() Settings {
	return Settings{
		Brightness:   50,
		ExposureMode: "auto",
		MeteringMode: "average",
		AWBMode:      "auto",
		ImageEffect:  "none",
		Mirror:       "none",
	}
}

// Validate checks ranges and the named modes.
func (s Settings) Validate() error {
	v := validation.New().Merge(validation.Struct(s))
	s.checkModes(v, "")
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

func (s Settings) checkModes(v *validation.Validator, prefix string) {
	modes := []struct {
		field   string
		value   string
		allowed []string
	}{
		{"exposure_mode", s.ExposureMode, hal.ExposureModes},
		{"metering_mode", s.MeteringMode, hal.MeteringModes},
		{"awb_mode", s.AWBMode, hal.AWBModes},
		{"image_effect", s.ImageEffect, hal.ImageEffects},
		{"mirror", s.Mirror, hal.MirrorModes},
	}
	for _, m := range modes {
		v.Required(prefix+m.field, m.value).OneOf(prefix+m.field, m.value, m.allowed)
	}
}

type param struct {
	id    hal.ParameterID
	value any
}

const gainDen = 1 << 16

// params lists the engine parameters in the order they are applied.
func (s Settings) params() []param {
	gains := [2]hal.Rational{
		{Num: int(math.Round(s.AWBGains[0] * gainDen)), Den: gainDen},
		{Num: int(math.Round(s.AWBGains[1] * gainDen)), Den: gainDen},
	}
	return []param{
		{hal.ParamSharpness, s.Sharpness},
		{hal.ParamContrast, s.Contrast},
		{hal.ParamBrightness, s.Brightness},
		{hal.ParamSaturation, s.Saturation},
		{hal.ParamISO, s.ISO},
		{hal.ParamExposureMode, s.ExposureMode},
		{hal.ParamExposureCompensation, s.ExposureCompensation},
		{hal.ParamMeteringMode, s.MeteringMode},
		{hal.ParamAWBMode, s.AWBMode},
		{hal.ParamAWBGains, gains},
		{hal.ParamImageEffect, s.ImageEffect},
		{hal.ParamRotation, s.Rotation},
		{hal.ParamMirror, s.Mirror},
		{hal.ParamShutterSpeed, s.ShutterSpeed},
	}
}
