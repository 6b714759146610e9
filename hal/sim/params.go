package sim

import (
	"fmt"
	"slices"

	"github.com/kbukum/mmalkit/hal"
)

type paramCheck func(v any) error

func intRange(lo, hi int) paramCheck {
	return func(v any) error {
		n, ok := v.(int)
		if !ok {
			return fmt.Errorf("want int, got %T", v)
		}
		if n < lo || n > hi {
			return fmt.Errorf("%d out of range [%d, %d]", n, lo, hi)
		}
		return nil
	}
}

func oneOf(values []string) paramCheck {
	return func(v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		if !slices.Contains(values, s) {
			return fmt.Errorf("%q not supported", s)
		}
		return nil
	}
}

var paramChecks = map[hal.ParameterID]paramCheck{
	hal.ParamCapture: func(v any) error {
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
		return nil
	},
	hal.ParamJPEGQuality:          intRange(1, 100),
	hal.ParamSharpness:            intRange(-100, 100),
	hal.ParamContrast:             intRange(-100, 100),
	hal.ParamBrightness:           intRange(0, 100),
	hal.ParamSaturation:           intRange(-100, 100),
	hal.ParamISO:                  intRange(0, 1600),
	hal.ParamExposureMode:         oneOf(hal.ExposureModes),
	hal.ParamExposureCompensation: intRange(-10, 10),
	hal.ParamMeteringMode:         oneOf(hal.MeteringModes),
	hal.ParamAWBMode:              oneOf(hal.AWBModes),
	hal.ParamAWBGains: func(v any) error {
		g, ok := v.([2]hal.Rational)
		if !ok {
			return fmt.Errorf("want [2]hal.Rational, got %T", v)
		}
		for _, r := range g {
			if r.Den == 0 || r.Float() < 0 || r.Float() > 8 {
				return fmt.Errorf("gain %s out of range", r)
			}
		}
		return nil
	},
	hal.ParamImageEffect: oneOf(hal.ImageEffects),
	hal.ParamRotation: func(v any) error {
		n, ok := v.(int)
		if !ok {
			return fmt.Errorf("want int, got %T", v)
		}
		if n%90 != 0 || n < 0 || n >= 360 {
			return fmt.Errorf("rotation %d not a multiple of 90", n)
		}
		return nil
	},
	hal.ParamMirror:       oneOf(hal.MirrorModes),
	hal.ParamShutterSpeed: intRange(0, 6_000_000),
	hal.ParamFrameCount: func(any) error {
		return fmt.Errorf("read only")
	},
}

func checkParameter(id hal.ParameterID, v any) error {
	check, ok := paramChecks[id]
	if !ok {
		return fmt.Errorf("unknown parameter %d", int(id))
	}
	return check(v)
}

// isSetting reports whether id is a device setting committed with the
// component configuration rather than changed live.
func isSetting(id hal.ParameterID) bool {
	switch id {
	case hal.ParamCapture, hal.ParamJPEGQuality, hal.ParamFrameCount:
		return false
	}
	return true
}

var cameraDefaults = map[hal.ParameterID]any{
	hal.ParamSharpness:            0,
	hal.ParamContrast:             0,
	hal.ParamBrightness:           50,
	hal.ParamSaturation:           0,
	hal.ParamISO:                  0,
	hal.ParamExposureMode:         "auto",
	hal.ParamExposureCompensation: 0,
	hal.ParamMeteringMode:         "average",
	hal.ParamAWBMode:              "auto",
	hal.ParamAWBGains:             [2]hal.Rational{{Num: 0, Den: 1}, {Num: 0, Den: 1}},
	hal.ParamImageEffect:          "none",
	hal.ParamRotation:             0,
	hal.ParamMirror:               "none",
	hal.ParamShutterSpeed:         0,
	hal.ParamFrameCount:           0,
}
