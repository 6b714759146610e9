package hal

// PortType is the direction class of a port.
type PortType int

const (
	PortControl PortType = iota
	PortInput
	PortOutput
	PortClock
)

func (t PortType) String() string {
	switch t {
	case PortControl:
		return "control"
	case PortInput:
		return "in"
	case PortOutput:
		return "out"
	case PortClock:
		return "clock"
	default:
		return "unknown"
	}
}

// ParameterID names a port or component parameter.
type ParameterID int

// Parameters understood by the engines. Values are int, bool, string or
// Rational as noted.
const (
	// ParamCapture (bool) starts or stops frame capture on a camera port.
	ParamCapture ParameterID = iota + 1
	// ParamJPEGQuality (int, 1-100) on a JPEG encoder output.
	ParamJPEGQuality

	ParamSharpness            // int, -100..100
	ParamContrast             // int, -100..100
	ParamBrightness           // int, 0..100
	ParamSaturation           // int, -100..100
	ParamISO                  // int, 0 = auto
	ParamExposureMode         // string
	ParamExposureCompensation // int, -10..10
	ParamMeteringMode         // string
	ParamAWBMode              // string
	ParamAWBGains             // [2]Rational, red and blue gain
	ParamImageEffect          // string
	ParamRotation             // int, 0/90/180/270
	ParamMirror               // string: none, horizontal, vertical, both
	ParamShutterSpeed         // int, microseconds, 0 = auto
	ParamFrameCount           // int, frames produced so far (read only)
)

var paramNames = map[ParameterID]string{
	ParamCapture:              "capture",
	ParamJPEGQuality:          "jpeg_quality",
	ParamSharpness:            "sharpness",
	ParamContrast:             "contrast",
	ParamBrightness:           "brightness",
	ParamSaturation:           "saturation",
	ParamISO:                  "iso",
	ParamExposureMode:         "exposure_mode",
	ParamExposureCompensation: "exposure_compensation",
	ParamMeteringMode:         "metering_mode",
	ParamAWBMode:              "awb_mode",
	ParamAWBGains:             "awb_gains",
	ParamImageEffect:          "image_effect",
	ParamRotation:             "rotation",
	ParamMirror:               "mirror",
	ParamShutterSpeed:         "shutter_speed",
	ParamFrameCount:           "frame_count",
}

func (p ParameterID) String() string {
	if n, ok := paramNames[p]; ok {
		return n
	}
	return "unknown"
}

// Component names known to the engines.
const (
	ComponentCamera      = "vc.ril.camera"
	ComponentImageEncode = "vc.ril.image_encode"
	ComponentVideoEncode = "vc.ril.video_encode"
	ComponentNullSink    = "vc.null_sink"
)

// Camera output port indices.
const (
	CameraPreviewPort = 0
	CameraVideoPort   = 1
	CameraStillPort   = 2
)

// Accepted values of the string parameters.
var (
	ExposureModes = []string{
		"off", "auto", "night", "nightpreview", "backlight", "spotlight", "sports",
		"snow", "beach", "verylong", "fixedfps", "antishake", "fireworks",
	}
	MeteringModes = []string{"average", "spot", "backlit", "matrix"}
	AWBModes      = []string{
		"off", "auto", "sunlight", "cloudy", "shade", "tungsten", "fluorescent",
		"incandescent", "flash", "horizon",
	}
	ImageEffects = []string{
		"none", "negative", "solarize", "sketch", "denoise", "emboss", "oilpaint",
		"hatch", "gpen", "pastel", "watercolour", "film", "blur", "saturation",
		"colourswap", "washedout", "posterise", "colourpoint", "colourbalance", "cartoon",
	}
	MirrorModes = []string{"none", "horizontal", "vertical", "both"}
)
